package callback

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/chat"
)

// Trimmer drops old tool-call rounds from the history before each model
// call, keeping only the most recent N rounds. A round is an assistant
// message carrying tool calls plus the consecutive tool replies that
// follow it; rounds are removed whole so call/reply pairing stays intact.
// System, user, and plain assistant messages are never touched.
type Trimmer struct {
	NoopCallback
	keep int
	log  zerolog.Logger
}

// NewTrimmer builds a trimmer that keeps the given number of recent tool
// rounds. Values below one are clamped to one.
func NewTrimmer(keep int, log zerolog.Logger) *Trimmer {
	if keep < 1 {
		keep = 1
	}
	return &Trimmer{keep: keep, log: log}
}

func (t *Trimmer) BeforeGenerate(_ context.Context, history *chat.History) {
	messages := history.Messages()

	var roundStarts []int
	for i, m := range messages {
		if m.Role == chat.RoleAssistant && m.HasToolCalls() {
			roundStarts = append(roundStarts, i)
		}
	}
	if len(roundStarts) <= t.keep {
		return
	}

	drop := make(map[int]bool)
	for _, start := range roundStarts[:len(roundStarts)-t.keep] {
		drop[start] = true
		for j := start + 1; j < len(messages) && messages[j].Role == chat.RoleTool; j++ {
			drop[j] = true
		}
	}

	kept := make([]chat.Message, 0, len(messages)-len(drop))
	for i, m := range messages {
		if !drop[i] {
			kept = append(kept, m)
		}
	}
	history.SetMessages(kept)

	t.log.Debug().
		Int("removed", len(drop)).
		Int("remaining", len(kept)).
		Msg("Trimmed old tool rounds from context")
}
