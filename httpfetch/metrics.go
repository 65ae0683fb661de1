package httpfetch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scope is the instrumentation scope name for OpenTelemetry.
const scope = "github.com/relaykit/relay-go/httpfetch"

// StageInterval is one timed phase of a network transaction.
type StageInterval struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start, or 0 when either bound is missing.
func (s StageInterval) Duration() time.Duration {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// TransactionMetrics times the phases of one request/response exchange.
// A redirected attempt produces one TransactionMetrics per hop.
type TransactionMetrics struct {
	DomainLookup     StageInterval
	Connect          StageInterval
	SecureConnection StageInterval
	Request          StageInterval
	Server           StageInterval
	Response         StageInterval
	Total            StageInterval
}

// Metrics is the per-request metrics record: the envelope task interval,
// the redirect count, and one transaction block per exchange across all
// attempts.
type Metrics struct {
	TaskInterval  StageInterval
	RedirectCount int
	Transactions  []TransactionMetrics
}

// instruments holds the OpenTelemetry metric instruments emitted by the
// executor. A nil *instruments is a valid no-op.
type instruments struct {
	requestDuration metric.Float64Histogram
	retryAttempts   metric.Int64Counter
	retryExhausted  metric.Int64Counter
	dnsDuration     metric.Float64Histogram
	connectDuration metric.Float64Histogram
	tlsDuration     metric.Float64Histogram
	serverDuration  metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(scope)
	}

	var (
		in  instruments
		err error
	)
	if in.requestDuration, err = meter.Float64Histogram(
		"http.fetch.request.duration",
		metric.WithDescription("Duration of request executions including retries"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if in.retryAttempts, err = meter.Int64Counter(
		"http.fetch.retry.attempts",
		metric.WithDescription("Number of retry attempts"),
	); err != nil {
		return nil, err
	}
	if in.retryExhausted, err = meter.Int64Counter(
		"http.fetch.retry.exhausted",
		metric.WithDescription("Number of requests that exhausted their retry budget"),
	); err != nil {
		return nil, err
	}
	if in.dnsDuration, err = meter.Float64Histogram(
		"http.fetch.dns.duration",
		metric.WithDescription("Duration of DNS lookups"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if in.connectDuration, err = meter.Float64Histogram(
		"http.fetch.connect.duration",
		metric.WithDescription("Duration of connection establishment"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if in.tlsDuration, err = meter.Float64Histogram(
		"http.fetch.tls.duration",
		metric.WithDescription("Duration of TLS handshakes"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if in.serverDuration, err = meter.Float64Histogram(
		"http.fetch.server.duration",
		metric.WithDescription("Time to first response byte"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *instruments) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if in == nil {
		return
	}
	in.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (in *instruments) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue) {
	if in == nil {
		return
	}
	in.retryAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (in *instruments) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if in == nil {
		return
	}
	in.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordTransaction emits the stage timings of one transaction block.
func (in *instruments) recordTransaction(ctx context.Context, tx TransactionMetrics, attrs []attribute.KeyValue) {
	if in == nil {
		return
	}
	opt := metric.WithAttributes(attrs...)
	if d := tx.DomainLookup.Duration(); d > 0 {
		in.dnsDuration.Record(ctx, d.Seconds(), opt)
	}
	if d := tx.Connect.Duration(); d > 0 {
		in.connectDuration.Record(ctx, d.Seconds(), opt)
	}
	if d := tx.SecureConnection.Duration(); d > 0 {
		in.tlsDuration.Record(ctx, d.Seconds(), opt)
	}
	if d := tx.Server.Duration(); d > 0 {
		in.serverDuration.Record(ctx, d.Seconds(), opt)
	}
}
