package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ServiceName     = "prguard"
	instrumentation = "github.com/joescharf/prguard"

	// DefaultShutdownGrace bounds how long Shutdown waits for pending spans.
	DefaultShutdownGrace = 5 * time.Second
)

// Exporter kinds.
const (
	ExporterNone  = "none"
	ExporterOTLP  = "otlp"
	ExporterStore = "store"
)

// Config controls how spans are exported.
type Config struct {
	Exporter       string
	Endpoint       string
	Headers        map[string]string
	ServiceVersion string
	ShutdownGrace  time.Duration
}

type options struct {
	exporter  sdktrace.SpanExporter
	processor sdktrace.SpanProcessor
	writer    SpanWriter
	logger    *slog.Logger
}

// Option customizes a Client.
type Option func(*options)

// WithExporter exports spans to exp instead of the configured exporter.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithSpanProcessor registers p instead of the configured exporter.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processor = p }
}

// WithSpanWriter sets the destination for the "store" exporter.
func WithSpanWriter(w SpanWriter) Option {
	return func(o *options) { o.writer = w }
}

// WithLogger sets the logger used for telemetry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Client owns the process-wide tracer provider. It is created once by the
// command layer and passed to the components that open spans.
type Client struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	grace    time.Duration
	logger   *slog.Logger

	mu sync.Mutex
	// managers holds only the managers that have spans open.
	managers map[*SpanManager]struct{}
}

// New builds a Client for cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch {
	case o.processor != nil:
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(o.processor))
	case o.exporter != nil:
		tpOpts = append(tpOpts, sdktrace.WithBatcher(o.exporter))
	default:
		exp, err := buildExporter(ctx, cfg, o.writer)
		if err != nil {
			return nil, err
		}
		if exp != nil {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
		}
	}

	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	return &Client{
		provider: tp,
		tracer:   tp.Tracer(instrumentation),
		grace:    grace,
		logger:   o.logger,
	}, nil
}

func buildExporter(ctx context.Context, cfg Config, w SpanWriter) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Exporter)) {
	case "", ExporterNone:
		return nil, nil
	case ExporterStore:
		if w == nil {
			return nil, errors.New("telemetry: store exporter requires a span writer")
		}
		return NewStoreExporter(w), nil
	case ExporterOTLP:
		var hopts []otlptracehttp.Option
		if ep := cfg.Endpoint; ep != "" {
			if strings.Contains(ep, "://") {
				hopts = append(hopts, otlptracehttp.WithEndpointURL(ep))
			} else {
				hopts = append(hopts, otlptracehttp.WithEndpoint(ep))
			}
		}
		if len(cfg.Headers) > 0 {
			hopts = append(hopts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exp, err := otlptracehttp.New(ctx, hopts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}
}

// Tracer returns the client's tracer. A nil Client yields a no-op tracer.
func (c *Client) Tracer() trace.Tracer {
	if c == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	return c.tracer
}

// Flush exports all ended spans that are still buffered.
func (c *Client) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.provider.ForceFlush(ctx)
}

// Shutdown ends any spans still open, flushes, and stops the provider. It
// waits at most the configured grace period; running out of time is logged
// as a warning and is not an error.
func (c *Client) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	managers := make([]*SpanManager, 0, len(c.managers))
	for m := range c.managers {
		managers = append(managers, m)
	}
	c.mu.Unlock()
	for _, m := range managers {
		m.CloseAll()
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.grace)
	defer cancel()

	err := c.provider.Shutdown(sctx)
	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("telemetry flush abandoned", "grace", c.grace.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

func (c *Client) register(m *SpanManager) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.managers == nil {
		c.managers = make(map[*SpanManager]struct{})
	}
	c.managers[m] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unregister(m *SpanManager) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.managers, m)
	c.mu.Unlock()
}

// tracked returns the number of managers with open spans.
func (c *Client) tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.managers)
}
