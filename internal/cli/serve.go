package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mika/saker/pkg/gateway"
	"github.com/mika/saker/pkg/schedule"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket gateway and the scheduler",
	Long: `Serve the websocket gateway. Remote clients authenticate with the shared
secret, dispatch prompts through the run method, and receive streamed
tokens and lifecycle events. When scheduling is enabled, programmed
prompts run in the same process and report through gateway events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	runner := newSessionRunner(rt.agent, rt.sessions, rt.log)

	gw, err := gateway.NewServer(gateway.Config{
		Addr:              cfg.Gateway.Addr,
		Secret:            cfg.Gateway.Secret,
		Runner:            runner,
		Sessions:          rt.sessions,
		TickInterval:      time.Duration(cfg.Gateway.TickIntervalMS) * time.Millisecond,
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		MaxConcurrent:     cfg.Gateway.MaxConcurrent,
		Logger:            rt.component("gateway"),
	})
	if err != nil {
		return err
	}

	var scheduler *schedule.Service
	if cfg.Schedule.Enabled {
		scheduler, err = schedule.NewService(schedule.Config{
			Path:    cfg.Schedule.Path,
			Runner:  jobRunner(runner),
			Logger:  rt.component("schedule"),
			OnEvent: jobEventBroadcaster(gw.Events()),
		})
		if err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		registerJobMethods(gw, scheduler)
	}

	if err := gw.Start(); err != nil {
		return err
	}
	if scheduler != nil {
		scheduler.Start()
	}

	rt.log.Info().Str("addr", gw.Addr()).Msg("Gateway listening")
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", gw.Addr())

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down")

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			rt.log.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}
	return gw.Stop()
}

// jobRunner adapts the session runner to the scheduler. Jobs bound to a
// session extend its transcript; the rest run isolated.
func jobRunner(runner *sessionRunner) schedule.RunFunc {
	return func(ctx context.Context, job schedule.Job) error {
		if job.Session != "" {
			_, err := runner.Run(ctx, job.Session, job.Prompt, nil)
			return err
		}
		_, err := runner.RunOnce(ctx, job.Prompt)
		return err
	}
}

// jobEventBroadcaster mirrors scheduler lifecycle events to connected
// gateway clients.
func jobEventBroadcaster(events *gateway.Broadcaster) func(schedule.Event) {
	return func(ev schedule.Event) {
		data := map[string]interface{}{
			"job_id":   ev.JobID,
			"job_name": ev.JobName,
		}
		if ev.Status != "" {
			data["status"] = ev.Status
		}
		if ev.Error != "" {
			data["error"] = ev.Error
		}
		if ev.DurationMs > 0 {
			data["duration_ms"] = ev.DurationMs
		}
		if ev.NextRun != nil {
			data["next_run"] = ev.NextRun.Format(time.RFC3339)
		}
		events.Broadcast("job."+string(ev.Action), data)
	}
}

// registerJobMethods exposes the scheduler over gateway RPC.
func registerJobMethods(gw *gateway.Server, scheduler *schedule.Service) {
	_ = gw.RegisterMethod("jobs.list", func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"jobs": scheduler.List()}, nil
	})

	_ = gw.RegisterMethod("jobs.add", func(_ context.Context, params map[string]interface{}) (interface{}, error) {
		add, gerr := jobParams(params)
		if gerr != nil {
			return nil, gerr
		}
		job, err := scheduler.Add(add)
		if err != nil {
			return nil, &gateway.Error{Code: gateway.CodeInvalidParams, Message: err.Error()}
		}
		return job, nil
	})

	_ = gw.RegisterMethod("jobs.remove", func(_ context.Context, params map[string]interface{}) (interface{}, error) {
		id, ok := stringParam(params, "id")
		if !ok {
			return nil, &gateway.Error{Code: gateway.CodeInvalidParams, Message: "id is required"}
		}
		if err := scheduler.Remove(id); err != nil {
			return nil, &gateway.Error{Code: gateway.CodeInvalidParams, Message: err.Error()}
		}
		return map[string]interface{}{"removed": id}, nil
	})

	_ = gw.RegisterMethod("jobs.run", func(_ context.Context, params map[string]interface{}) (interface{}, error) {
		id, ok := stringParam(params, "id")
		if !ok {
			return nil, &gateway.Error{Code: gateway.CodeInvalidParams, Message: "id is required"}
		}
		if err := scheduler.Run(id); err != nil {
			return nil, &gateway.Error{Code: gateway.CodeInvalidParams, Message: err.Error()}
		}
		return map[string]interface{}{"started": id}, nil
	})
}

// jobParams decodes jobs.add parameters. Exactly one of at, every and
// cron selects the schedule kind.
func jobParams(params map[string]interface{}) (schedule.AddParams, *gateway.Error) {
	name, ok := stringParam(params, "name")
	if !ok || name == "" {
		return schedule.AddParams{}, &gateway.Error{Code: gateway.CodeInvalidParams, Message: "name is required"}
	}
	prompt, ok := stringParam(params, "prompt")
	if !ok || prompt == "" {
		return schedule.AddParams{}, &gateway.Error{Code: gateway.CodeInvalidParams, Message: "prompt is required"}
	}

	at, _ := stringParam(params, "at")
	every, _ := stringParam(params, "every")
	cronExpr, _ := stringParam(params, "cron")

	var spec schedule.Spec
	switch {
	case at != "" && every == "" && cronExpr == "":
		spec = schedule.Spec{Kind: schedule.KindAt, At: at}
	case every != "" && at == "" && cronExpr == "":
		spec = schedule.Spec{Kind: schedule.KindEvery, Every: every}
	case cronExpr != "" && at == "" && every == "":
		tz, _ := stringParam(params, "tz")
		spec = schedule.Spec{Kind: schedule.KindCron, Cron: cronExpr, TZ: tz}
	default:
		return schedule.AddParams{}, &gateway.Error{Code: gateway.CodeInvalidParams, Message: "exactly one of at, every, cron is required"}
	}

	session, _ := stringParam(params, "session")
	deleteAfter := spec.Kind == schedule.KindAt

	return schedule.AddParams{
		Name:           name,
		Prompt:         prompt,
		Session:        session,
		Enabled:        true,
		DeleteAfterRun: deleteAfter,
		Spec:           spec,
	}, nil
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	v, ok := params[key].(string)
	return v, ok
}
