package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStageInterval_Duration(t *testing.T) {
	now := time.Now()

	assert.Zero(t, StageInterval{}.Duration())
	assert.Zero(t, StageInterval{Start: now}.Duration())
	assert.Equal(t, time.Second, StageInterval{Start: now, End: now.Add(time.Second)}.Duration())
}

func TestClient_Fetch_EmitsRetryMetrics(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	client := New(
		WithBaseURL(srv.URL),
		WithMaxRetries(5),
		WithRetryDelays(time.Millisecond, 5*time.Millisecond),
		WithMeterProvider(provider),
	)

	_, err := client.Fetch(context.Background(), NewRequest(http.MethodGet, "/flaky"))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var retryTotal int64
	durationSeen := false
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch m.Name {
			case "http.fetch.retry.attempts":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					retryTotal += dp.Value
				}
			case "http.fetch.request.duration":
				durationSeen = true
			}
		}
	}
	assert.Equal(t, int64(2), retryTotal)
	assert.True(t, durationSeen, "request duration histogram must be recorded")
}

func TestClient_Fetch_EmitsClientSpan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	client := New(WithBaseURL(srv.URL), WithTracerProvider(provider))

	_, err := client.Fetch(context.Background(), NewRequest(http.MethodGet, "/x"))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET", spans[0].Name)
}
