package callback

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

// Logger logs every lifecycle event of a run. Register it last so it
// observes the state other callbacks produced.
type Logger struct {
	NoopCallback
	log zerolog.Logger
}

// NewLogger builds a logging callback on the given logger.
func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) BeforeLoop(_ context.Context, history *chat.History) {
	l.log.Debug().Int("messages", history.Len()).Msg("Run started")
}

func (l *Logger) BeforeGenerate(_ context.Context, history *chat.History) {
	l.log.Debug().Int("messages", history.Len()).Msg("Calling model")
}

func (l *Logger) AfterGenerate(_ context.Context, msg *chat.Message) {
	l.log.Debug().
		Int("toolCalls", len(msg.ToolCalls)).
		Int("contentLength", len(msg.Content)).
		Msg("Model replied")
}

func (l *Logger) BeforeToolCall(_ context.Context, name string, args *string) Decision {
	l.log.Info().Str("tool", name).Str("args", *args).Msg("Executing tool")
	return Proceed()
}

func (l *Logger) AfterToolCall(_ context.Context, name string, result tool.Result) tool.Result {
	if result.Failed() {
		l.log.Warn().Str("tool", name).Str("error", result.ErrorMessage()).Msg("Tool failed")
	} else {
		l.log.Info().Str("tool", name).Int("outputLength", len(result.Output())).Msg("Tool completed")
	}
	return result
}

func (l *Logger) AfterLoop(_ context.Context, history *chat.History, response string) {
	l.log.Debug().
		Int("messages", history.Len()).
		Int("responseLength", len(response)).
		Msg("Run finished")
}
