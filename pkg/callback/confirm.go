package callback

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Confirmer asks for interactive approval before configured tools run.
// The operator can approve the call, rewrite its arguments, or deny it;
// denial skips that one call and the run continues.
type Confirmer struct {
	NoopCallback
	tools map[string]bool
	in    *bufio.Reader
	out   io.Writer
}

// NewConfirmer builds a confirmer gating the named tools, prompting on out
// and reading decisions from in.
func NewConfirmer(in io.Reader, out io.Writer, tools ...string) *Confirmer {
	gated := make(map[string]bool, len(tools))
	for _, name := range tools {
		gated[name] = true
	}
	return &Confirmer{
		tools: gated,
		in:    bufio.NewReader(in),
		out:   out,
	}
}

func (c *Confirmer) BeforeToolCall(_ context.Context, name string, args *string) Decision {
	if !c.tools[name] {
		return Proceed()
	}

	fmt.Fprintf(c.out, "\nTool %s wants to run with arguments:\n  %s\n", name, *args)
	fmt.Fprint(c.out, "Allow? [y]es / [n]o / [e]dit: ")

	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return Skip("confirmation unavailable")
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return Proceed()
	case "e", "edit":
		fmt.Fprint(c.out, "New arguments (JSON): ")
		edited, err := c.in.ReadString('\n')
		if err != nil && edited == "" {
			return Skip("confirmation unavailable")
		}
		if trimmed := strings.TrimSpace(edited); trimmed != "" {
			*args = trimmed
			fmt.Fprintln(c.out, "Arguments updated.")
		}
		return Proceed()
	default:
		return Skip("cancelled by user")
	}
}
