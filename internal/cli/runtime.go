package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mika/saker/internal/config"
	"github.com/mika/saker/internal/logger"
	"github.com/mika/saker/pkg/agent"
	"github.com/mika/saker/pkg/callback"
	"github.com/mika/saker/pkg/coretools"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/mcp"
	"github.com/mika/saker/pkg/memory"
	"github.com/mika/saker/pkg/session"
	"github.com/mika/saker/pkg/telemetry"
	"github.com/mika/saker/pkg/tool"
)

// runtime is the assembled process: engine, tools, callbacks, agent and
// the services around them.
type runtime struct {
	cfg      *config.Config
	logs     *logger.Logger
	log      zerolog.Logger
	engine   engine.Generator
	registry *tool.Registry
	agent    *agent.Agent
	sessions *session.Store
	memory   *memory.Manager
	core     *coretools.Tools
	servers  []*mcp.Client
	traces   *sdktrace.TracerProvider
}

// runtimeOptions tunes assembly per command.
type runtimeOptions struct {
	console bool     // mirror logs to stdout
	confirm []string // gate these tools behind interactive confirmation
	in      io.Reader
	out     io.Writer
}

// loadConfig resolves and validates the configuration, honoring the
// global --config and --log-level flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newRuntime builds the agent and everything it needs from the config.
// The caller owns the result and must Close it.
func newRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	logs, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    opts.console && cfg.Logging.Console,
		Pretty:     cfg.Logging.Pretty,
		Redact:     cfg.Logging.Redaction,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logs: logs, log: logs.Zerolog()}

	eng, err := buildEngine(cfg, rt.component("engine"))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = eng

	rt.registry = tool.NewRegistry()

	if cfg.Tools.Enabled {
		core, err := coretools.RegisterAll(rt.registry, coretools.Options{
			WorkDir:       cfg.Tools.WorkDir,
			EnableBrowser: cfg.Tools.Browser,
			Logger:        rt.component("tools"),
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("register built-in tools: %w", err)
		}
		rt.core = core
	}

	if cfg.Memory.Enabled {
		mgr, err := memory.NewManager(memory.Config{
			Dir:        cfg.Memory.Dir,
			DBPath:     cfg.Memory.DBPath,
			Logger:     rt.component("memory"),
			Embeddings: buildEmbeddings(cfg),
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open memory index: %w", err)
		}
		rt.memory = mgr
		if err := memory.RegisterTools(mgr, rt.registry); err != nil {
			rt.Close()
			return nil, fmt.Errorf("register memory tools: %w", err)
		}
	}

	for _, server := range cfg.MCPServers {
		client, err := mcp.Connect(ctx, mcp.Config{
			BaseURL: server.URL,
			Headers: server.Headers,
			Name:    cfg.Agent.Name,
			Version: version,
			Logger:  rt.component("mcp").With().Str("server", server.Name).Logger(),
		})
		if err != nil {
			// A down MCP server should not take the whole agent with it.
			rt.log.Warn().Err(err).Str("server", server.Name).Msg("MCP server unavailable, skipping")
			continue
		}
		rt.servers = append(rt.servers, client)

		count, err := client.RegisterTools(ctx, rt.registry)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("register %s tools: %w", server.Name, err)
		}
		rt.log.Info().Str("server", server.Name).Int("tools", count).Msg("MCP tools registered")
	}

	pipeline, err := rt.buildCallbacks(ctx, opts)
	if err != nil {
		rt.Close()
		return nil, err
	}

	ag, err := agent.New(agent.Config{
		Engine:       rt.engine,
		Tools:        rt.registry,
		Callbacks:    pipeline,
		Instructions: cfg.Agent.Instructions,
		Logger:       rt.component("agent"),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.agent = ag

	store, err := session.NewStore(cfg.SessionDir, rt.component("session"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	rt.sessions = store

	return rt, nil
}

// buildCallbacks assembles the pipeline. Order matters: the guard and
// confirmer gate calls before execution, tracing sees raw results, and
// recovery runs last so every earlier hook observes the failure it is
// about to absorb.
func (rt *runtime) buildCallbacks(ctx context.Context, opts runtimeOptions) (*callback.Pipeline, error) {
	pipeline := callback.NewPipeline(callback.NewLogger(rt.component("callback")))

	if len(rt.cfg.Tools.Deny) > 0 {
		pipeline.Register(newGuard(rt.cfg.Tools.Deny))
	}

	if len(opts.confirm) > 0 {
		in := opts.in
		if in == nil {
			in = os.Stdin
		}
		out := opts.out
		if out == nil {
			out = os.Stdout
		}
		pipeline.Register(callback.NewConfirmer(in, out, opts.confirm...))
	}

	if rt.cfg.Trace.Endpoint != "" {
		provider, err := telemetry.NewProvider(ctx, telemetry.ProviderConfig{
			Endpoint:    rt.cfg.Trace.Endpoint,
			ServiceName: rt.cfg.Trace.ServiceName,
		})
		if err != nil {
			return nil, fmt.Errorf("create trace provider: %w", err)
		}
		rt.traces = provider

		traces, err := telemetry.NewTraceCallback(telemetry.TraceConfig{
			Provider:  provider,
			Engine:    rt.engine.Provider(),
			Model:     rt.cfg.Engine.Model,
			AgentName: rt.cfg.Agent.Name,
		})
		if err != nil {
			return nil, err
		}
		pipeline.Register(traces)
	}

	pipeline.Register(callback.NewRecovery(rt.component("callback")))

	return pipeline, nil
}

// component derives a named sub-logger.
func (rt *runtime) component(name string) zerolog.Logger {
	return rt.log.With().Str("component", name).Logger()
}

// Close releases resources in reverse build order.
func (rt *runtime) Close() {
	if rt.core != nil {
		if err := rt.core.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to close built-in tools")
		}
	}
	for _, client := range rt.servers {
		if err := client.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to close MCP client")
		}
	}
	if rt.memory != nil {
		if err := rt.memory.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to close memory index")
		}
	}
	if rt.traces != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.traces.Shutdown(ctx); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to flush traces")
		}
		cancel()
	}
	if rt.logs != nil {
		_ = rt.logs.Close()
	}
}

func buildEmbeddings(cfg *config.Config) memory.EmbeddingProvider {
	e := cfg.Memory.Embeddings
	if !e.Enabled {
		return nil
	}
	return memory.NewOpenAIEmbeddings(e.APIKey, e.Model, e.BaseURL)
}
