package callback

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/tool"
)

// Recovery converts tool failures into structured successes so the model
// can see what went wrong and try something else instead of aborting the
// run. The recovered output is a JSON object:
//
//	{"error": true, "tool": "<name>", "message": "<failure message>"}
type Recovery struct {
	NoopCallback
	log zerolog.Logger
}

// NewRecovery builds an error-recovering callback.
func NewRecovery(log zerolog.Logger) *Recovery {
	return &Recovery{log: log}
}

func (r *Recovery) AfterToolCall(_ context.Context, name string, result tool.Result) tool.Result {
	if !result.Failed() {
		return result
	}

	r.log.Warn().
		Str("tool", name).
		Str("error", result.ErrorMessage()).
		Msg("Recovering tool failure into structured result")

	payload, err := json.Marshal(map[string]interface{}{
		"error":   true,
		"tool":    name,
		"message": result.ErrorMessage(),
	})
	if err != nil {
		return result.Recover(`{"error":true,"message":"tool failed"}`)
	}
	return result.Recover(string(payload))
}
