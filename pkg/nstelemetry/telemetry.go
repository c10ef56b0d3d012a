// Package nstelemetry wires up the Prometheus + OpenTelemetry metrics
// exporters any application built on this framework can enable, and
// supplies a QueryMiddleware that records per-request counts,
// durations, and rcode breakdowns. Providers are no-ops when
// telemetry is disabled, so instrumented code needs no nil checks.
package nstelemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/nhairs/nserver/pkg/middleware"
	"github.com/nhairs/nserver/pkg/nslog"
	"github.com/nhairs/nserver/pkg/rule"
)

// Config controls whether and how telemetry is exposed.
type Config struct {
	Enabled           bool
	ServiceName       string
	ServiceVersion    string
	PrometheusEnabled bool
	PrometheusPort    int
	TracingEnabled    bool
	TracingEndpoint   string
}

// DefaultConfig returns telemetry disabled by default; an application
// opts in explicitly.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "nserver",
		ServiceVersion: "dev",
		PrometheusPort: 9100,
	}
}

// Telemetry holds the configured metric and trace providers.
type Telemetry struct {
	cfg                Config
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *nslog.Logger
}

// Metrics holds every counter/histogram this package exposes.
type Metrics struct {
	QueriesTotal     metric.Int64Counter
	QueriesByType    metric.Int64Counter
	QueryDuration    metric.Float64Histogram
	ResponsesByRcode metric.Int64Counter
	NotMatchedTotal  metric.Int64Counter
}

// New builds a Telemetry instance. With cfg.Enabled false it returns
// no-op providers so instrumented code pays no cost and needs no nil
// checks.
func New(ctx context.Context, cfg Config, logger *nslog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = nslog.NewDefault()
	}

	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{cfg: cfg, logger: logger}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("nstelemetry: create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("nstelemetry: setup metrics: %w", err)
	}

	if cfg.TracingEnabled {
		t.tracerProvider = tracenoop.NewTracerProvider()
		otel.SetTracerProvider(t.tracerProvider)
		logger.Info("tracing enabled", "endpoint", cfg.TracingEndpoint)
	} else {
		t.tracerProvider = tracenoop.NewTracerProvider()
	}

	logger.Info("telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
		"tracing", cfg.TracingEnabled,
	)
	return t, nil
}

func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("start prometheus server: %w", err)
	}
	t.logger.Info("prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("prometheus server failed", "error", err)
		}
	}()
	return nil
}

// InitMetrics creates and returns the instrument set.
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("nserver")

	queriesTotal, err := meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	)
	if err != nil {
		return nil, fmt.Errorf("create queries counter: %w", err)
	}

	queriesByType, err := meter.Int64Counter(
		"dns.queries.by_type",
		metric.WithDescription("DNS queries by query type"),
	)
	if err != nil {
		return nil, fmt.Errorf("create queries by type counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create query duration histogram: %w", err)
	}

	responsesByRcode, err := meter.Int64Counter(
		"dns.responses.by_rcode",
		metric.WithDescription("DNS responses by rcode"),
	)
	if err != nil {
		return nil, fmt.Errorf("create responses by rcode counter: %w", err)
	}

	notMatchedTotal, err := meter.Int64Counter(
		"dns.queries.not_matched",
		metric.WithDescription("Queries no rule in the tree matched"),
	)
	if err != nil {
		return nil, fmt.Errorf("create not-matched counter: %w", err)
	}

	return &Metrics{
		QueriesTotal:     queriesTotal,
		QueriesByType:    queriesByType,
		QueryDuration:    queryDuration,
		ResponsesByRcode: responsesByRcode,
		NotMatchedTotal:  notMatchedTotal,
	}, nil
}

// MeterProvider returns the configured meter provider.
func (t *Telemetry) MeterProvider() metric.MeterProvider { return t.meterProvider }

// TracerProvider returns the configured tracer provider.
func (t *Telemetry) TracerProvider() trace.TracerProvider { return t.tracerProvider }

// AsQueryMiddleware returns a QueryMiddleware that times every query,
// then records its type, duration, and (for a matched query) the
// response's rcode.
func (m *Metrics) AsQueryMiddleware() middleware.QueryMiddleware {
	return func(next middleware.QueryFunc) middleware.QueryFunc {
		return func(q rule.Query) (rule.Response, bool, error) {
			start := time.Now()
			resp, matched, err := next(q)
			elapsed := time.Since(start)

			ctx := context.Background()
			typeAttr := attribute.String("qtype", dns.TypeToString[q.Type])
			m.QueriesTotal.Add(ctx, 1)
			m.QueriesByType.Add(ctx, 1, metric.WithAttributes(typeAttr))
			m.QueryDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, metric.WithAttributes(typeAttr))

			if !matched {
				m.NotMatchedTotal.Add(ctx, 1)
			} else {
				m.ResponsesByRcode.Add(ctx, 1, metric.WithAttributes(attribute.Int("rcode", resp.Rcode)))
			}
			return resp, matched, err
		}
	}
}

// Shutdown gracefully tears down the Prometheus server and meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("nstelemetry: shutdown errors: %v", errs)
	}
	t.logger.Info("telemetry shut down")
	return nil
}
