package coretools

import (
	"context"
	"fmt"
	"time"

	"github.com/mika/saker/pkg/tool"
)

func clockTool() tool.Tool {
	def := tool.Definition{
		Name:        "time",
		Description: "Get the current date and time, optionally in a specific IANA timezone and format.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"timezone": tool.StringProp("IANA timezone name, e.g. Europe/Berlin (default: local)"),
			"format":   tool.StringProp("One of rfc3339, unix, kitchen, or a Go reference layout (default rfc3339)"),
		}),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			Timezone string `json:"timezone"`
			Format   string `json:"format"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}

		loc := time.Local
		if params.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(params.Timezone)
			if err != nil {
				return "", fmt.Errorf("unknown timezone %q", params.Timezone)
			}
		}
		now := time.Now().In(loc)

		var formatted string
		switch params.Format {
		case "", "rfc3339":
			formatted = now.Format(time.RFC3339)
		case "unix":
			formatted = fmt.Sprintf("%d", now.Unix())
		case "kitchen":
			formatted = now.Format(time.Kitchen)
		default:
			formatted = now.Format(params.Format)
		}

		return encodeResult(map[string]interface{}{
			"time":     formatted,
			"unix":     now.Unix(),
			"timezone": loc.String(),
			"weekday":  now.Weekday().String(),
		})
	})
}
