package httpfetch

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// transactionTracer captures per-stage timings of one attempt via
// net/http/httptrace. Redirect hops rotate the current transaction so
// the metrics record carries one block per exchange.
type transactionTracer struct {
	mu      sync.Mutex
	current TransactionMetrics
	done    []TransactionMetrics
}

func newTransactionTracer() *transactionTracer {
	t := &transactionTracer{}
	t.current.Total.Start = time.Now()
	return t
}

// clientTrace wires the tracer into an httptrace.ClientTrace.
func (t *transactionTracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(_ httptrace.DNSStartInfo) {
			t.stamp(func(tx *TransactionMetrics) { tx.DomainLookup.Start = time.Now() })
		},
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			t.stamp(func(tx *TransactionMetrics) { tx.DomainLookup.End = time.Now() })
		},
		ConnectStart: func(_, _ string) {
			t.stamp(func(tx *TransactionMetrics) {
				if tx.Connect.Start.IsZero() {
					tx.Connect.Start = time.Now()
				}
			})
		},
		ConnectDone: func(_, _ string, _ error) {
			t.stamp(func(tx *TransactionMetrics) { tx.Connect.End = time.Now() })
		},
		TLSHandshakeStart: func() {
			t.stamp(func(tx *TransactionMetrics) { tx.SecureConnection.Start = time.Now() })
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			t.stamp(func(tx *TransactionMetrics) { tx.SecureConnection.End = time.Now() })
		},
		GotConn: func(_ httptrace.GotConnInfo) {
			t.stamp(func(tx *TransactionMetrics) { tx.Request.Start = time.Now() })
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			t.stamp(func(tx *TransactionMetrics) {
				now := time.Now()
				tx.Request.End = now
				tx.Server.Start = now
			})
		},
		GotFirstResponseByte: func() {
			t.stamp(func(tx *TransactionMetrics) {
				now := time.Now()
				tx.Server.End = now
				tx.Response.Start = now
			})
		},
	}
}

func (t *transactionTracer) stamp(fn func(*TransactionMetrics)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.current)
}

// rotate closes the current transaction and opens a new one. Called on
// each redirect hop.
func (t *transactionTracer) rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.current.Response.End = now
	t.current.Total.End = now
	t.done = append(t.done, t.current)
	t.current = TransactionMetrics{}
	t.current.Total.Start = now
}

// finish closes the current transaction and returns all blocks.
func (t *transactionTracer) finish() []TransactionMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if t.current.Response.End.IsZero() {
		t.current.Response.End = now
	}
	t.current.Total.End = now
	return append(t.done, t.current)
}
