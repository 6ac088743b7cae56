package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/agent"
	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/session"
)

// sessionRunner executes prompts with a session's transcript as history
// and persists the new turns on success. A mutex serializes runs: the
// agent drives one conversation at a time, so concurrent gateway calls
// and scheduled jobs queue instead of failing.
type sessionRunner struct {
	agent    *agent.Agent
	sessions *session.Store
	log      zerolog.Logger
	mu       sync.Mutex
}

func newSessionRunner(ag *agent.Agent, sessions *session.Store, log zerolog.Logger) *sessionRunner {
	return &sessionRunner{agent: ag, sessions: sessions, log: log}
}

// Run satisfies the gateway's runner contract.
func (r *sessionRunner) Run(ctx context.Context, sess, prompt string, sink engine.StreamSink) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history, err := r.sessions.Load(sess)
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", sess, err)
	}

	// Instructions stay virtual: inserted here on every run, never
	// written to the session file. A stored copy would go stale the
	// moment the configured instructions change.
	history.EnsureSystem(r.agent.Instructions())
	base := history.Len()
	history.Append(chat.User(prompt))

	reply, err := r.agent.Run(ctx, history, sink)
	if err != nil {
		return "", err
	}

	// Persist every new turn, tool traffic included, so reloading the
	// session reproduces the exact prompt prefix for cache reuse.
	if err := r.sessions.Append(sess, history.Messages()[base:]...); err != nil {
		r.log.Warn().Err(err).Str("session", sess).Msg("Failed to persist session turns")
	}
	return reply, nil
}

// RunOnce executes a prompt against a fresh history that is never
// persisted. Scheduled jobs without a session run through here.
func (r *sessionRunner) RunOnce(ctx context.Context, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := chat.NewHistory()
	history.Append(chat.User(prompt))
	return r.agent.Run(ctx, history, nil)
}
