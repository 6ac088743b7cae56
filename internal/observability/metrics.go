// Package observability registers the process-wide Prometheus metrics
// and exposes small Record helpers the rest of the module calls at its
// hot points. Registration happens once, on first use, so any package
// can call a helper without coordinating startup order.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runErrors   *prometheus.CounterVec

	generateDuration *prometheus.HistogramVec

	toolTotal    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolErrors   *prometheus.CounterVec

	promptTokens *prometheus.CounterVec

	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	memorySearchDuration prometheus.Histogram
	memorySyncDuration   prometheus.Histogram
	memoryChunks         prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by engine and status.",
				},
				[]string{"engine", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by engine.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"engine"},
			),
			runErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_errors_total",
					Help: "Total failed agent runs by engine.",
				},
				[]string{"engine"},
			),
			generateDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "generate_duration_seconds",
					Help:    "Model generation duration in seconds by engine.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"engine"},
			),
			toolTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			promptTokens: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prompt_tokens_total",
					Help: "Prompt tokens by kind: reused from the prefix cache or primed fresh.",
				},
				[]string{"kind"},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memorySyncDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_sync_duration_seconds",
					Help:    "Memory index sync duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryChunks: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_chunks",
					Help: "Chunks currently indexed in workspace memory.",
				},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.runErrors,
			m.generateDuration,
			m.toolTotal,
			m.toolDuration,
			m.toolErrors,
			m.promptTokens,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.memorySearchDuration,
			m.memorySyncDuration,
			m.memoryChunks,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered registers the metric set the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordRun observes one completed agent run.
func RecordRun(engine string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.runTotal.WithLabelValues(engine, status).Inc()
	m.runDuration.WithLabelValues(engine).Observe(duration.Seconds())
	if !success {
		m.runErrors.WithLabelValues(engine).Inc()
	}
}

// RecordGenerate observes one model call.
func RecordGenerate(engine string, duration time.Duration) {
	getMetrics().generateDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordToolExecution observes one tool execution.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolTotal.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrors.WithLabelValues(tool).Inc()
	}
}

// RecordPromptTokens counts how much of a prompt was served from the
// prefix cache versus freshly encoded.
func RecordPromptTokens(reused, primed int) {
	m := getMetrics()
	if reused > 0 {
		m.promptTokens.WithLabelValues("reused").Add(float64(reused))
	}
	if primed > 0 {
		m.promptTokens.WithLabelValues("primed").Add(float64(primed))
	}
}

// RecordSessionLoad observes one session load.
func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

// RecordSessionSave observes one session append.
func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

// RecordMemorySearch observes one memory search.
func RecordMemorySearch(duration time.Duration) {
	getMetrics().memorySearchDuration.Observe(duration.Seconds())
}

// RecordMemorySync observes one memory index sync.
func RecordMemorySync(duration time.Duration) {
	getMetrics().memorySyncDuration.Observe(duration.Seconds())
}

// SetMemoryChunks reports the indexed chunk count.
func SetMemoryChunks(total int) {
	getMetrics().memoryChunks.Set(float64(total))
}
