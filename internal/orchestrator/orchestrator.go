package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/helmsman-ai/helmsman/internal/catalog"
	"github.com/helmsman-ai/helmsman/internal/checkpoint"
	"github.com/helmsman-ai/helmsman/internal/observability"
	"github.com/helmsman-ai/helmsman/internal/provider"
	"github.com/helmsman-ai/helmsman/internal/stop"
)

// Config bounds run behavior.
type Config struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Temperature is clamped to [0.0, 2.0] before each request.
	Temperature float32

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int

	// MaxIterations caps total state machine node visits per run.
	MaxIterations int

	// MaxRetries caps rate-limit and transient retries per model turn.
	MaxRetries int

	// AutoContinueMax caps consecutive model turns without user input.
	AutoContinueMax int

	// StopPollInterval is the token cadence for cancellation polling.
	StopPollInterval int
}

// DefaultConfig returns the standard run bounds.
func DefaultConfig() Config {
	return Config{
		Temperature:      0.2,
		MaxIterations:    25,
		MaxRetries:       3,
		AutoContinueMax:  2,
		StopPollInterval: 25,
	}
}

// ParamInjector supplies integration-specific call parameters the model
// could not know. It returns the adjusted arguments, plus a non-empty
// error message when required wiring is missing; that message
// short-circuits the single call, never the batch.
type ParamInjector func(tool string, args map[string]any, spec *catalog.ToolSpec) (map[string]any, string)

// Orchestrator drives one run at a time through the turn state machine.
// The stop registry and catalog cache are the only state shared between
// concurrent orchestrators.
type Orchestrator struct {
	provider provider.Client
	invoker  catalog.Invoker
	catalog  *catalog.Cache
	stops    *stop.Registry
	store    checkpoint.Store
	sink     EventSink
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	inject   ParamInjector
	cfg      Config

	// sleep is replaceable so retry tests do not wait out real
	// backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventSink sets the progress event receiver.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithConfig replaces the default run bounds.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithCheckpointStore replaces the default in-memory checkpoint store.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithStopRegistry shares a cancellation registry across orchestrators.
func WithStopRegistry(stops *stop.Registry) Option {
	return func(o *Orchestrator) { o.stops = stops }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer enables span creation around runs, turns, and tool calls.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithParamInjector installs the integration wiring hook.
func WithParamInjector(inject ParamInjector) Option {
	return func(o *Orchestrator) { o.inject = inject }
}

// WithCatalogCache shares a catalog cache across orchestrators.
func WithCatalogCache(cache *catalog.Cache) Option {
	return func(o *Orchestrator) { o.catalog = cache }
}

// New builds an orchestrator over a model provider and tool invoker.
func New(client provider.Client, invoker catalog.Invoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: client,
		invoker:  invoker,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("orchestrator"),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stops == nil {
		o.stops = stop.NewRegistry()
	}
	if o.store == nil {
		o.store = checkpoint.NewMemoryStore()
	}
	if o.catalog == nil && invoker != nil {
		o.catalog = catalog.NewCache(invoker, o.logger)
	}
	return o
}

// Stops exposes the cancellation registry so transports can request
// stops for in-flight runs.
func (o *Orchestrator) Stops() *stop.Registry { return o.stops }

// Close releases model and checkpoint resources. It is safe on every
// exit path, including aborted runs.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.provider != nil {
		if err := o.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
