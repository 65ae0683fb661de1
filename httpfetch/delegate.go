package httpfetch

import (
	"net/http"
)

// Delegate observes the lifecycle of requests executed by a client.
// Callbacks for a single request arrive in order: DidEnqueue,
// TaskIsWaitingForConnectivity (at most once), any number of
// WillPerformRedirect / DidReceiveAuthChallenge, WillRetry per retry,
// DidCollectMetrics, DidFinish. No ordering is guaranteed across
// distinct requests.
//
// Embed NopDelegate to implement a subset.
type Delegate interface {
	// DidEnqueue fires when the executor accepts the request.
	DidEnqueue(req *Request)

	// TaskIsWaitingForConnectivity fires when an attempt fails because
	// the network is unreachable.
	TaskIsWaitingForConnectivity(req *Request)

	// WillPerformRedirect fires before a redirect is chased.
	WillPerformRedirect(req *Request, next *http.Request)

	// DidReceiveAuthChallenge fires when a response carries an
	// authentication challenge (401 or 407).
	DidReceiveAuthChallenge(req *Request, resp *Response)

	// WillRetry fires before each retry, with the strategy about to be
	// applied and the response that triggered it.
	WillRetry(req *Request, strategy RetryStrategy, resp *Response)

	// DidCollectMetrics fires once per request with the final metrics
	// record. It does not fire when the request fails before any
	// attempt completes (for example on a construction error).
	DidCollectMetrics(req *Request, m *Metrics)

	// DidFinish fires when the final response is about to be delivered.
	DidFinish(req *Request, resp *Response)
}

// NopDelegate is a Delegate with empty callbacks.
type NopDelegate struct{}

var _ Delegate = NopDelegate{}

func (NopDelegate) DidEnqueue(*Request)                          {}
func (NopDelegate) TaskIsWaitingForConnectivity(*Request)        {}
func (NopDelegate) WillPerformRedirect(*Request, *http.Request)  {}
func (NopDelegate) DidReceiveAuthChallenge(*Request, *Response)  {}
func (NopDelegate) WillRetry(*Request, RetryStrategy, *Response) {}
func (NopDelegate) DidCollectMetrics(*Request, *Metrics)         {}
func (NopDelegate) DidFinish(*Request, *Response)                {}
