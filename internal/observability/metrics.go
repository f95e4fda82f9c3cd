package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the orchestration engine.
type Metrics struct {
	// RunCounter counts completed runs.
	// Labels: status (completed|stopped|awaiting_approval|error)
	RunCounter *prometheus.CounterVec

	// RunDuration measures wall time per run in seconds.
	RunDuration prometheus.Histogram

	// TurnCounter counts model turns by provider and model.
	// Labels: provider, model
	TurnCounter *prometheus.CounterVec

	// TTFT measures time to first streamed token in seconds.
	// Labels: provider, model
	TTFT *prometheus.HistogramVec

	// TokensUsed tracks token consumption.
	// Labels: model, type (prompt|completion), source (main|turn_check)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// RetryCounter counts provider retries.
	// Labels: kind (rate_limit|transient)
	RetryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with a new registry.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		RunCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_runs_total",
			Help: "Completed orchestrator runs by terminal status",
		}, []string{"status"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "helmsman_run_duration_seconds",
			Help:    "Wall time per run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_model_turns_total",
			Help: "Model turns issued",
		}, []string{"provider", "model"}),

		TTFT: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helmsman_ttft_seconds",
			Help:    "Time to first streamed token",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "model"}),

		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_tokens_total",
			Help: "Token consumption",
		}, []string{"model", "type", "source"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_tool_executions_total",
			Help: "Tool invocations by outcome",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helmsman_tool_execution_seconds",
			Help:    "Tool execution time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		RetryCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_provider_retries_total",
			Help: "Provider request retries by failure kind",
		}, []string{"kind"}),
	}
	return m, reg
}

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
