package httpfetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yosida95/uritemplate/v3"
)

// TransferMode selects how response bytes are materialized.
type TransferMode int

const (
	// TransferModeBuffered accumulates the response body in memory.
	TransferModeBuffered TransferMode = iota

	// TransferModeLargeData spills the response body to a temporary
	// file; bytes are never held in memory unless explicitly read.
	TransferModeLargeData
)

// RedirectPolicy selects how redirects are treated.
type RedirectPolicy int

const (
	// RedirectFollow chases redirects with the transport's defaults.
	RedirectFollow RedirectPolicy = iota

	// RedirectRefuse delivers the redirect response unchased.
	RedirectRefuse

	// RedirectFollowWithOriginalSettings chases redirects, copying onto
	// each hop the original request's headers that the hop lacks. The
	// body is not re-applied; net/http's redirect rules decide whether
	// it is resent.
	RedirectFollowWithOriginalSettings
)

// Request is a structured description of one HTTP call. Fields are
// mutable until Fetch begins an attempt; between attempts the After
// retry callback may mutate them again, and the next attempt re-reads
// the current values.
type Request struct {
	// Method is the HTTP method (GET, POST, ...).
	Method string

	// URL, when non-empty, is used as the absolute request URL and wins
	// over Path.
	URL string

	// Path is joined to the client's base URL. It may contain RFC 6570
	// template expressions filled from TemplateVars.
	Path string

	// TemplateVars supplies values for Path's template expressions.
	TemplateVars map[string]string

	// Query is the ordered query parameter sequence.
	Query []QueryItem

	// Headers are merged over the client's default headers (request
	// wins on collision).
	Headers HeaderSet

	// Body is the request payload. Nil means no payload.
	Body Body

	// Timeout bounds each individual attempt; zero uses the client's
	// configured timeout.
	Timeout time.Duration

	// MaxRetries caps re-attempts (the initial attempt is not counted).
	// Negative values use the client default.
	MaxRetries int

	// TransferMode selects buffered or large-data delivery.
	TransferMode TransferMode

	// RedirectPolicy overrides the client's redirect handling.
	RedirectPolicy RedirectPolicy

	// ResumeData, when non-nil, continues a previously cancelled
	// large-data transfer from where it stopped.
	ResumeData []byte

	// ProduceResumeData packages the partial transfer into resumable
	// bytes when the request is cancelled mid-download; the cancelled
	// response exposes them through ResumeData().
	ProduceResumeData bool

	// Mutate, when non-nil, adjusts the wire request after all other
	// composition steps. It must be a pure function of its input.
	Mutate func(*http.Request) error

	// OnProgress receives progress events for this request.
	OnProgress ProgressSink

	id string
}

// NewRequest creates a request for the given method and path (or
// absolute URL).
func NewRequest(method, pathOrURL string) *Request {
	r := &Request{
		Method:     method,
		MaxRetries: -1,
		id:         uuid.NewString(),
	}
	if strings.Contains(pathOrURL, "://") {
		r.URL = pathOrURL
	} else {
		r.Path = pathOrURL
	}
	return r
}

// ID returns the request's stable identifier. Responses reference their
// originating request through it.
func (r *Request) ID() string {
	if r.id == "" {
		r.id = uuid.NewString()
	}
	return r.id
}

// TemplateVar sets one template variable and returns r for chaining.
func (r *Request) TemplateVar(name, value string) *Request {
	if r.TemplateVars == nil {
		r.TemplateVars = make(map[string]string)
	}
	r.TemplateVars[name] = value
	return r
}

// Header sets a header field and returns r for chaining.
func (r *Request) Header(name, value string) *Request {
	r.Headers.Set(name, value)
	return r
}

// AddQuery appends a query item, preserving order, and returns r.
func (r *Request) AddQuery(name, value string) *Request {
	r.Query = append(r.Query, QueryItem{Name: name, Value: value})
	return r
}

// WithBody sets the payload and returns r for chaining.
func (r *Request) WithBody(b Body) *Request {
	r.Body = b
	return r
}

// WithJSON sets a JSON payload and returns r for chaining.
func (r *Request) WithJSON(v any) *Request {
	r.Body = JSONBody{Value: v}
	return r
}

// WithTimeout sets the per-attempt timeout and returns r for chaining.
func (r *Request) WithTimeout(d time.Duration) *Request {
	r.Timeout = d
	return r
}

// WithMaxRetries sets the retry budget and returns r for chaining.
func (r *Request) WithMaxRetries(n int) *Request {
	r.MaxRetries = n
	return r
}

// LargeData switches the request to large-data transfer mode and
// returns r for chaining.
func (r *Request) LargeData() *Request {
	r.TransferMode = TransferModeLargeData
	return r
}

// resolveURL composes the request URL from the absolute URL or from
// (base, path, template variables), then appends the ordered query
// items.
func (r *Request) resolveURL(baseURL string) (string, error) {
	full := r.URL
	if full == "" {
		path := r.Path
		if strings.Contains(path, "{") {
			tmpl, err := uritemplate.New(path)
			if err != nil {
				return "", &Error{Kind: KindInvalidURL, Err: err, Message: path}
			}
			vars := make(uritemplate.Values, len(r.TemplateVars))
			for k, v := range r.TemplateVars {
				vars[k] = uritemplate.String(v)
			}
			path, err = tmpl.Expand(vars)
			if err != nil {
				return "", &Error{Kind: KindInvalidURL, Err: err, Message: r.Path}
			}
		}
		if baseURL == "" {
			full = path
		} else {
			full = strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
		}
	}

	u, err := url.Parse(full)
	if err != nil {
		return "", &Error{Kind: KindInvalidURL, Err: err, Message: full}
	}
	if !u.IsAbs() {
		return "", NewError(KindInvalidURL, "request URL %q is not absolute and no base URL is set", full)
	}

	if len(r.Query) > 0 {
		encoded := encodeFormItems(r.Query)
		if u.RawQuery == "" {
			u.RawQuery = encoded
		} else {
			u.RawQuery += "&" + encoded
		}
	}
	return u.String(), nil
}

// wireBody describes the encoded payload of one attempt, kept alongside
// the wire request for upload progress and cURL rendering.
type wireBody struct {
	// data holds the encoded payload for in-memory bodies.
	data []byte

	// filePath is set instead of data for streamed file payloads.
	filePath string

	// headers is the merged header store in insertion order, kept for
	// order-preserving cURL rendering.
	headers HeaderSet
}

// buildWire produces the one-shot http.Request for the next attempt,
// snapshotting the request's mutable fields.
func (r *Request) buildWire(ctx context.Context, baseURL string, defaultHeaders HeaderSet) (*http.Request, *wireBody, error) {
	target, err := r.resolveURL(baseURL)
	if err != nil {
		return nil, nil, err
	}

	body := r.Body
	if body == nil {
		body = EmptyBody{}
	}
	reader, contentType, length, err := body.Encode()
	if err != nil {
		return nil, nil, err
	}

	wb := &wireBody{}
	if fb, ok := body.(FileBody); ok {
		wb.filePath = fb.Path
	} else if reader != nil {
		wb.data, err = io.ReadAll(reader)
		if err != nil {
			return nil, nil, WrapError(KindFailedBuildingURLRequest, err)
		}
		reader = bytes.NewReader(wb.data)
	}

	wire, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return nil, nil, WrapError(KindFailedBuildingURLRequest, err)
	}
	if length >= 0 {
		wire.ContentLength = length
	}

	headers := defaultHeaders.Clone()
	headers.Merge(r.Headers)
	if contentType != "" {
		if _, ok := headers.Value("Content-Type"); !ok {
			headers.Set("Content-Type", contentType)
		}
	}
	headers.Apply(wire.Header)
	wb.headers = headers

	if r.Mutate != nil {
		if err := r.Mutate(wire); err != nil {
			return nil, nil, WrapError(KindFailedBuildingURLRequest, err)
		}
	}
	return wire, wb, nil
}
