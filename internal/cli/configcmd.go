package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mika/saker/internal/config"
)

var configShow bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented starter config",
	RunE:  runConfigInit,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and report every problem",
	RunE:  runConfigCheck,
}

func init() {
	configCheckCmd.Flags().BoolVar(&configShow, "show", false, "print the resolved config (secrets masked)")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.WriteStarter(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Fill in your engine credentials, then try: saker chat")
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	out := cmd.OutOrStdout()
	if configShow {
		fmt.Fprintln(out, cfg.String())
	}

	errs := config.NewValidator().ValidateConfig(cfg)
	if len(errs) == 0 {
		fmt.Fprintf(out, "Configuration OK (%s)\n", config.NewLoader(cfgFile).Path())
		return nil
	}

	for _, e := range errs {
		fmt.Fprintf(out, "  - %v\n", e)
	}
	return fmt.Errorf("%d configuration problem(s)", len(errs))
}
