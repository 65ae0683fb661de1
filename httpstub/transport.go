package httpstub

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// Transport is an http.RoundTripper that answers requests from a
// registry and delegates everything else to a base transport.
type Transport struct {
	// Registry supplies the rules. A nil registry always delegates.
	Registry *Registry

	// Base is the real transport for pass-through requests; nil uses
	// http.DefaultTransport.
	Base http.RoundTripper

	// Jar, when non-nil, merges stored cookies into stubbed requests
	// and captures Set-Cookie headers from stubbed responses.
	Jar http.CookieJar

	// OnRedirect observes the follow-up request synthesized for a
	// stubbed redirect response before it is delivered.
	OnRedirect func(next *http.Request)
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport creates a stubbing transport over base.
func NewTransport(registry *Registry, base http.RoundTripper) *Transport {
	return &Transport{Registry: registry, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	reg := t.Registry
	if reg == nil || !reg.ShouldHandle(req) {
		return t.base().RoundTrip(req)
	}

	rule := reg.Match(req)
	if rule == nil {
		return nil, ErrStubNotFound
	}

	// Stored cookies are visible to the producer the same way a real
	// transport would send them. An enclosing http.Client with its own
	// jar has already injected them; skip the merge then.
	if t.Jar != nil && req.Header.Get("Cookie") == "" {
		for _, c := range t.Jar.Cookies(req.URL) {
			req.AddCookie(c)
		}
	}

	stub := rule.response(req)
	if stub == nil {
		return nil, ErrStubNotFound
	}

	if stub.Delay > 0 {
		timer := time.NewTimer(stub.Delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	if stub.Err != nil {
		return nil, stub.Err
	}

	resp := t.buildResponse(req, stub)

	if t.Jar != nil {
		if cookies := readSetCookies(resp.Header); len(cookies) > 0 {
			t.Jar.SetCookies(req.URL, cookies)
		}
	}

	t.handleRedirect(req, stub, resp)
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// buildResponse assembles the wire-shaped response for a stub.
func (t *Transport) buildResponse(req *http.Request, stub *StubResponse) *http.Response {
	header := make(http.Header)
	for name, values := range stub.Headers {
		header[name] = append([]string(nil), values...)
	}
	if stub.ContentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", stub.ContentType)
	}
	if stub.CachePolicy == CacheNoStore && header.Get("Cache-Control") == "" {
		header.Set("Cache-Control", "no-store")
	}

	var (
		body          io.ReadCloser
		contentLength int64 = -1
	)
	switch {
	case stub.BodyReader != nil:
		body = io.NopCloser(stub.BodyReader)
	default:
		body = io.NopCloser(bytes.NewReader(stub.Body))
		contentLength = int64(len(stub.Body))
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", stub.Status, http.StatusText(stub.Status)),
		StatusCode:    stub.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: contentLength,
		Request:       req,
	}
}

// handleRedirect surfaces the follow-up request of a stubbed
// redirection. A Location header wins; a textual target in the body is
// accepted for compatibility and promoted into the header so the
// enclosing client can chase it.
func (t *Transport) handleRedirect(req *http.Request, stub *StubResponse, resp *http.Response) {
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return
	}
	if resp.StatusCode == http.StatusNotModified || resp.StatusCode == http.StatusUseProxy {
		return
	}

	location := resp.Header.Get("Location")
	if location == "" {
		location = bodyRedirectTarget(stub.Body)
		if location == "" {
			return
		}
		resp.Header.Set("Location", location)
	}

	if t.OnRedirect == nil {
		return
	}
	target, err := url.Parse(location)
	if err != nil {
		return
	}
	next := req.Clone(req.Context())
	next.URL = req.URL.ResolveReference(target)
	next.Host = ""
	t.OnRedirect(next)
}

// bodyRedirectTarget extracts a redirect target embedded as plain text
// in the body.
func bodyRedirectTarget(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" || strings.ContainsFunc(s, unicode.IsSpace) {
		return ""
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "/") {
		return ""
	}
	return s
}

// readSetCookies parses Set-Cookie headers into cookies.
func readSetCookies(header http.Header) []*http.Cookie {
	dummy := http.Response{Header: header}
	return dummy.Cookies()
}
