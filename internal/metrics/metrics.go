package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	LedgerCalls       metric.Int64Counter
	LedgerDuration    metric.Float64Histogram
	Submissions       metric.Int64Counter
	ModeDecisions     metric.Int64Counter
	StoreFailovers    metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := New(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// New registers the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequests, err = meter.Int64Counter(
		"stc_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"stc_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.LedgerCalls, err = meter.Int64Counter(
		"stc_ledger_calls_total",
		metric.WithDescription("Ledger GraphQL calls by operation and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.LedgerDuration, err = meter.Float64Histogram(
		"stc_ledger_call_duration_seconds",
		metric.WithDescription("Ledger GraphQL call duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.Submissions, err = meter.Int64Counter(
		"stc_submissions_total",
		metric.WithDescription("Bet and market submissions by mode and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.ModeDecisions, err = meter.Int64Counter(
		"stc_mode_decisions_total",
		metric.WithDescription("Resolved market views by mode and reason"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreFailovers, err = meter.Int64Counter(
		"stc_store_backend_switches_total",
		metric.WithDescription("Local store switches between primary and fallback backends"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"stc_stream_connections",
		metric.WithDescription("Number of active WebSocket and SSE connections"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
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

func (m *Metrics) ObserveLedgerCall(ctx context.Context, op string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	labels := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	m.LedgerCalls.Add(ctx, 1, labels)
	m.LedgerDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) ObserveSubmission(ctx context.Context, kind, mode, outcome string) {
	m.Submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) ObserveMode(ctx context.Context, mode, reason string) {
	m.ModeDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) RecordStoreSwitch(ctx context.Context, backend string) {
	m.StoreFailovers.Add(ctx, 1, metric.WithAttributes(attribute.String("active", backend)))
}

func (m *Metrics) IncrementConnections(ctx context.Context, kind string) {
	m.ActiveConnections.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) DecrementConnections(ctx context.Context, kind string) {
	m.ActiveConnections.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
}
