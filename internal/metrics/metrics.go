package metrics

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	Commands        metric.Int64Counter
	CommandDuration metric.Float64Histogram
	CommandErrors   metric.Int64Counter
	StreamEntries   metric.Int64Counter
	StreamClaims    metric.Int64Counter
	HTTPRequests    metric.Int64Counter
	HTTPDuration    metric.Float64Histogram
}

// Setup builds the meter and the handler serving it. Each call gets its own
// prometheus registry.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.Commands, err = meter.Int64Counter(
		"rediscmd_commands_total",
		metric.WithDescription("Total number of commands sent to the store"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CommandDuration, err = meter.Float64Histogram(
		"rediscmd_command_duration_seconds",
		metric.WithDescription("Store command round trip in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CommandErrors, err = meter.Int64Counter(
		"rediscmd_command_errors_total",
		metric.WithDescription("Total number of store commands that failed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StreamEntries, err = meter.Int64Counter(
		"rediscmd_stream_entries_total",
		metric.WithDescription("Stream entries processed by the worker, by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StreamClaims, err = meter.Int64Counter(
		"rediscmd_stream_claims_total",
		metric.WithDescription("Pending entries reclaimed from idle consumers"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequests, err = meter.Int64Counter(
		"rediscmd_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"rediscmd_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, nil
}

// RecordCommand counts one store command
func (m *Metrics) RecordCommand(ctx context.Context, name string, duration time.Duration, err error) {
	labels := metric.WithAttributes(attribute.String("cmd", name))

	m.Commands.Add(ctx, 1, labels)
	m.CommandDuration.Record(ctx, duration.Seconds(), labels)
	if err != nil {
		m.CommandErrors.Add(ctx, 1, labels)
	}
}

// RecordEntry counts a stream entry the worker finished with
func (m *Metrics) RecordEntry(ctx context.Context, stream, outcome string) {
	m.StreamEntries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordClaim(ctx context.Context, stream string, claimed int) {
	m.StreamClaims.Add(ctx, int64(claimed), metric.WithAttributes(attribute.String("stream", stream)))
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}
