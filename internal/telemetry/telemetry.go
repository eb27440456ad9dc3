package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the metric instruments and providers. A nil *Telemetry is
// valid and records nothing, so callers never need to guard.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the REST surface
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// engine metrics
	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	downloadBytes    metric.Int64Counter
	fetchesTotal     metric.Int64Counter

	// process health
	goroutineCount metric.Int64Gauge
	memoryUsage    metric.Int64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a telemetry instance backed by the Prometheus exporter.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	if err := otelruntime.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectProcessMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return otel.Tracer("noop")
	}

	return t.tracer
}

// RecordHTTPRequest records REST request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight REST requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight REST requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordDownload records one terminal download outcome.
func (t *Telemetry) RecordDownload(status string, duration time.Duration, bytes int64) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(context.Background(), 1, attrs)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
	}

	if t.downloadBytes != nil && bytes > 0 {
		t.downloadBytes.Add(context.Background(), bytes, attrs)
	}
}

// IncrementActiveDownloads increments the active downloads gauge.
func (t *Telemetry) IncrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveDownloads decrements the active downloads gauge.
func (t *Telemetry) DecrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// RecordFetch records one transport fetch attempt.
func (t *Telemetry) RecordFetch(status string) {
	if t != nil && t.fetchesTotal != nil {
		t.fetchesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	if t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of finished downloads by outcome"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	if t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of downloads currently transferring"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	if t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Download duration in seconds by outcome"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	if t.downloadBytes, err = t.meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Total bytes transferred by outcome"),
		metric.WithUnit("By"),
	); err != nil {
		return fmt.Errorf("failed to create download_bytes_total counter: %w", err)
	}

	if t.fetchesTotal, err = t.meter.Int64Counter(
		"fetches_total",
		metric.WithDescription("Total transport fetch attempts by outcome"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create fetches_total counter: %w", err)
	}

	if t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutines",
		metric.WithDescription("Number of running goroutines"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create goroutines gauge: %w", err)
	}

	if t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_heap_bytes",
		metric.WithDescription("Heap memory in use"),
		metric.WithUnit("By"),
	); err != nil {
		return fmt.Errorf("failed to create memory_heap_bytes gauge: %w", err)
	}

	return nil
}

func (t *Telemetry) collectProcessMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.goroutineCount.Record(ctx, int64(runtime.NumGoroutine()))

			var stats runtime.MemStats

			runtime.ReadMemStats(&stats)
			t.memoryUsage.Record(ctx, int64(stats.HeapInuse))
		}
	}
}
