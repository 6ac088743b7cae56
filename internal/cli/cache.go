package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mika/saker/pkg/engine"
)

var cacheWarmPath string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage persisted prompt caches",
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Prime and persist the prompt cache",
	Long: `Encode the configured instructions and tool definitions through the
engine and persist the decode state. Later runs load the cache and skip
re-encoding the shared prefix.`,
	RunE: runCacheWarm,
}

func init() {
	cacheWarmCmd.Flags().StringVar(&cacheWarmPath, "path", "", "cache file (default <cache_dir>/prompt.cache)")
	cacheCmd.AddCommand(cacheWarmCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheWarm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, runtimeOptions{console: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	path := cacheWarmPath
	if path == "" {
		path = filepath.Join(cfg.Engine.CacheDir, "prompt.cache")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	if err := rt.agent.WarmCache(ctx, path); err != nil {
		if errors.Is(err, engine.ErrNoCache) {
			return fmt.Errorf("the %s engine keeps no persistent prompt cache", rt.engine.Provider())
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Prompt cache ready at %s\n", path)
	return nil
}
