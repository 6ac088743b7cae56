package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var (
	chatSession string
	chatPrompt  string
	chatConfirm []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent interactively",
	Long: `Chat with the agent in a streaming REPL. The conversation is kept in
a named session and restored on the next run. With --prompt the agent
answers once and exits.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "default", "session holding the conversation")
	chatCmd.Flags().StringVarP(&chatPrompt, "prompt", "p", "", "answer a single prompt and exit")
	chatCmd.Flags().StringSliceVar(&chatConfirm, "confirm", nil, "tools that ask for confirmation before running")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Log lines interleave badly with streamed tokens; chat logs to
	// file only.
	cfg.Logging.Console = false

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, runtimeOptions{
		confirm: chatConfirm,
		in:      cmd.InOrStdin(),
		out:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	runner := newSessionRunner(rt.agent, rt.sessions, rt.log)
	out := cmd.OutOrStdout()

	if chatPrompt != "" {
		_, err := runner.Run(ctx, chatSession, chatPrompt, func(chunk string) {
			fmt.Fprint(out, chunk)
		})
		fmt.Fprintln(out)
		return err
	}

	return repl(ctx, rt, runner, chatSession, cmd.InOrStdin(), out)
}

// repl reads prompts line by line and streams replies. A failed run is
// reported and the loop continues.
func repl(ctx context.Context, rt *runtime, runner *sessionRunner, sess string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "saker %s, engine %s (%s)\n", version, rt.engine.Provider(), rt.cfg.Engine.Model)
	fmt.Fprintf(out, "Session %q. 'exit' quits, '/tools' lists tools, '/clear' wipes the session.\n\n", sess)

	scanner := bufio.NewScanner(in)
	// Pasted prompts can exceed the default 64K line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/tools":
			for _, name := range rt.registry.Names() {
				fmt.Fprintf(out, "  %s\n", name)
			}
			continue
		case "/clear":
			if err := rt.sessions.Delete(sess); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Session %q cleared.\n", sess)
			continue
		}

		if _, err := runner.Run(ctx, sess, line, func(chunk string) {
			fmt.Fprint(out, chunk)
		}); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprint(out, "\n\n")
	}
}
