package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordHTTPRequest(ctx, "GET", "/v1/markets", 200, 15*time.Millisecond)
	m.ObserveLedgerCall(ctx, "bets", 20*time.Millisecond, nil)
	m.ObserveLedgerCall(ctx, "placeBet", time.Millisecond, errors.New("boom"))
	m.ObserveSubmission(ctx, "bet", "demo", "committed")
	m.ObserveMode(ctx, "demo", "health probe pending")
	m.RecordStoreSwitch(ctx, "fallback")
	m.IncrementConnections(ctx, "sse")
	m.IncrementConnections(ctx, "ws")
	m.DecrementConnections(ctx, "sse")

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["stc_http_requests_total"]))
	assert.Equal(t, int64(2), sumOf(t, got["stc_ledger_calls_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["stc_submissions_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["stc_mode_decisions_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["stc_store_backend_switches_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["stc_stream_connections"]))
	assert.Contains(t, got, "stc_ledger_call_duration_seconds")
}
