package gateway

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/mika/saker/pkg/engine"
)

// Runner executes one prompt in a named session and streams generated
// text through the sink as it arrives.
type Runner interface {
	Run(ctx context.Context, session, prompt string, sink engine.StreamSink) (string, error)
}

// defaultSession names the conversation used when a run request does
// not pick one.
const defaultSession = "gateway"

func (s *Server) registerBuiltins() {
	s.router.register("status", s.handleStatus)
	if s.runner != nil {
		s.router.register("run", s.handleRun)
	}
	if s.sessions != nil {
		s.router.register("sessions.list", s.handleSessionsList)
		s.router.register("sessions.history", s.handleSessionsHistory)
		s.router.register("sessions.delete", s.handleSessionsDelete)
	}
}

// handleRun drives one agent run. Tokens stream to every authenticated
// client as `run.delta` events while the RPC response carries the final
// reply, so a caller can ignore the stream entirely and still get the
// answer.
func (s *Server) handleRun(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	prompt, ok := stringParam(params, "prompt")
	if !ok || prompt == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "prompt is required"}
	}
	sess, ok := stringParam(params, "session")
	if !ok || sess == "" {
		sess = defaultSession
	}

	runID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("mint run id: %w", err)
	}

	s.events.Send(Event{
		Event:   "run.started",
		Stream:  StreamLifecycle,
		Phase:   "start",
		RunID:   runID,
		Session: sess,
		Data:    map[string]interface{}{"prompt": prompt},
	})

	sink := func(chunk string) {
		s.events.Send(Event{
			Event:   "run.delta",
			Stream:  StreamAssistant,
			Phase:   "delta",
			RunID:   runID,
			Session: sess,
			Data:    map[string]interface{}{"content": chunk},
		})
	}

	started := time.Now()
	reply, err := s.runner.Run(ctx, sess, prompt, sink)
	if err != nil {
		s.events.Send(Event{
			Event:   "run.finished",
			Stream:  StreamLifecycle,
			Phase:   "error",
			RunID:   runID,
			Session: sess,
			Data:    map[string]interface{}{"error": err.Error()},
		})
		return nil, fmt.Errorf("run: %w", err)
	}

	s.events.Send(Event{
		Event:   "run.finished",
		Stream:  StreamLifecycle,
		Phase:   "finished",
		RunID:   runID,
		Session: sess,
		Data: map[string]interface{}{
			"response":    reply,
			"duration_ms": time.Since(started).Milliseconds(),
		},
	})

	return map[string]interface{}{
		"run_id":   runID,
		"session":  sess,
		"response": reply,
	}, nil
}

func (s *Server) handleStatus(context.Context, map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"status":   "ok",
		"uptime_s": int64(time.Since(s.startedAt).Seconds()),
		"clients":  s.clients.infos(),
		"methods":  s.router.methodNames(),
		"seq":      s.events.Seq(),
	}, nil
}

func (s *Server) handleSessionsList(context.Context, map[string]interface{}) (interface{}, error) {
	infos, err := s.sessions.List()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]interface{}{
			"name":     info.Name,
			"size":     info.Size,
			"modified": info.Modified,
		})
	}
	return map[string]interface{}{"sessions": out}, nil
}

func (s *Server) handleSessionsHistory(_ context.Context, params map[string]interface{}) (interface{}, error) {
	name, ok := stringParam(params, "session")
	if !ok || name == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "session is required"}
	}

	history, err := s.sessions.Load(name)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	msgs := history.Messages()
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		entry := map[string]interface{}{
			"role":    m.Role,
			"content": m.Content,
		}
		if m.ToolName != "" {
			entry["tool_name"] = m.ToolName
		}
		out = append(out, entry)
	}
	return map[string]interface{}{"session": name, "messages": out}, nil
}

func (s *Server) handleSessionsDelete(_ context.Context, params map[string]interface{}) (interface{}, error) {
	name, ok := stringParam(params, "session")
	if !ok || name == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "session is required"}
	}
	if err := s.sessions.Delete(name); err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	return map[string]interface{}{"deleted": name}, nil
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	v, ok := params[key].(string)
	return v, ok
}
