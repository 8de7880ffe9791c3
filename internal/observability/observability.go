package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	queueTracer trace.Tracer

	scrapeJobDuration    metric.Float64Histogram
	scrapeJobTotal       metric.Int64Counter
	scrapeLeadsExtracted metric.Int64Counter
	verificationTotal    metric.Int64Counter
	verificationDuration metric.Float64Histogram
	creditsDebited       metric.Int64Counter
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "leadhive"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Log error but don't fail app startup - observability is optional
			fmt.Printf("WARN: Failed to create OTLP trace exporter (traces disabled): %v\n", err)
			fmt.Printf("WARN: Endpoint: %s\n", cfg.OTLPEndpoint)
		} else {
			spanExporter = exp
			fmt.Printf("INFO: OTLP trace exporter initialised successfully for endpoint: %s\n", cfg.OTLPEndpoint)
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx) // best-effort cleanup
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		queueTracer = tracerProvider.Tracer("leadhive/queue")
		_ = initQueueInstruments(meterProvider)
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		// Skip tracing for health checks to reduce noise
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

func initQueueInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("leadhive/queue")

	var err error
	scrapeJobDuration, err = meter.Float64Histogram(
		"leadhive.scrape.job.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to run a scrape job end to end"),
	)
	if err != nil {
		return err
	}

	scrapeJobTotal, err = meter.Int64Counter(
		"leadhive.scrape.job.total",
		metric.WithDescription("Counts scrape job outcomes"),
	)
	if err != nil {
		return err
	}

	scrapeLeadsExtracted, err = meter.Int64Counter(
		"leadhive.scrape.leads.total",
		metric.WithDescription("Counts leads persisted from scrape jobs"),
	)
	if err != nil {
		return err
	}

	verificationTotal, err = meter.Int64Counter(
		"leadhive.verify.outcome.total",
		metric.WithDescription("Counts email verification outcomes by status"),
	)
	if err != nil {
		return err
	}

	verificationDuration, err = meter.Float64Histogram(
		"leadhive.verify.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to verify one lead or bulk batch"),
	)
	if err != nil {
		return err
	}

	creditsDebited, err = meter.Int64Counter(
		"leadhive.credits.debited.total",
		metric.WithDescription("Counts credits debited for successful verifications"),
	)
	return err
}

// ScrapeJobMetrics describes a finished scrape job for metric recording.
type ScrapeJobMetrics struct {
	JobID      string
	Status     string
	LeadsFound int
	Duration   time.Duration
}

// VerificationMetrics describes a finished verification for metric recording.
type VerificationMetrics struct {
	Status      string
	Provider    string
	CreditsUsed int
	Duration    time.Duration
}

// StartScrapeJobSpan starts a span for one scrape job run.
func StartScrapeJobSpan(ctx context.Context, jobID, targetID string) (context.Context, trace.Span) {
	t := queueTracer
	if t == nil {
		t = otel.Tracer("leadhive/queue")
	}

	attrs := []attribute.KeyValue{
		attribute.String("job.id", jobID),
		attribute.String("job.target_id", targetID),
	}

	return t.Start(ctx, "queue.process_scrape_job", trace.WithAttributes(attrs...))
}

// RecordScrapeJob emits scrape job metrics when instrumentation is initialised.
func RecordScrapeJob(ctx context.Context, m ScrapeJobMetrics) {
	statusAttr := metric.WithAttributes(attribute.String("job.status", m.Status))

	if scrapeJobDuration != nil {
		scrapeJobDuration.Record(ctx, float64(m.Duration.Milliseconds()), statusAttr)
	}
	if scrapeJobTotal != nil {
		scrapeJobTotal.Add(ctx, 1, statusAttr)
	}
	if scrapeLeadsExtracted != nil && m.LeadsFound > 0 {
		scrapeLeadsExtracted.Add(ctx, int64(m.LeadsFound))
	}
}

// RecordVerification emits verification metrics when instrumentation is initialised.
func RecordVerification(ctx context.Context, m VerificationMetrics) {
	attrs := metric.WithAttributes(
		attribute.String("verify.status", m.Status),
		attribute.String("verify.provider", m.Provider),
	)

	if verificationTotal != nil {
		verificationTotal.Add(ctx, 1, attrs)
	}
	if verificationDuration != nil {
		verificationDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if creditsDebited != nil && m.CreditsUsed > 0 {
		creditsDebited.Add(ctx, int64(m.CreditsUsed), attrs)
	}
}
