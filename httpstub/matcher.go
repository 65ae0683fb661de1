package httpstub

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"regexp"

	json "github.com/goccy/go-json"
	"github.com/yosida95/uritemplate/v3"
)

// Matcher is a predicate over a request, used to select stubs and
// ignores. All matchers of a rule must accept a request for the rule to
// apply.
type Matcher func(req *http.Request) bool

// MatchURLRegex matches the full request URL against a regular
// expression. The pattern is compiled eagerly; an invalid pattern
// panics, mirroring regexp.MustCompile.
func MatchURLRegex(pattern string) Matcher {
	re := regexp.MustCompile(pattern)
	return func(req *http.Request) bool {
		return re.MatchString(req.URL.String())
	}
}

// MatchURITemplate matches the request URL against an RFC 6570
// template. Template expressions absorb any expansion, so a template
// matches every URL it could have produced.
func MatchURITemplate(template string) Matcher {
	tmpl, err := uritemplate.New(template)
	if err != nil {
		return func(*http.Request) bool { return false }
	}
	return func(req *http.Request) bool {
		return tmpl.Match(req.URL.String()) != nil
	}
}

// URLMatchOptions selects URL components excluded from MatchURL's
// comparison.
type URLMatchOptions uint8

const (
	// IgnoreQueryParameters excludes the query string.
	IgnoreQueryParameters URLMatchOptions = 1 << iota
	// IgnorePath excludes the path.
	IgnorePath
	// IgnoreScheme excludes the scheme.
	IgnoreScheme
	// IgnoreHost excludes the hostname.
	IgnoreHost
	// IgnorePort excludes the port.
	IgnorePort
	// IgnoreFragment excludes the fragment.
	IgnoreFragment
)

// MatchURL matches the request URL against rawURL component by
// component, skipping the components named in opts.
func MatchURL(rawURL string, opts URLMatchOptions) Matcher {
	want, err := url.Parse(rawURL)
	if err != nil {
		return func(*http.Request) bool { return false }
	}
	return func(req *http.Request) bool {
		return urlEqual(req.URL, want, opts)
	}
}

func urlEqual(got, want *url.URL, opts URLMatchOptions) bool {
	if opts&IgnoreScheme == 0 && got.Scheme != want.Scheme {
		return false
	}
	if opts&IgnoreHost == 0 && got.Hostname() != want.Hostname() {
		return false
	}
	if opts&IgnorePort == 0 && got.Port() != want.Port() {
		return false
	}
	if opts&IgnorePath == 0 && got.Path != want.Path {
		return false
	}
	if opts&IgnoreQueryParameters == 0 && got.RawQuery != want.RawQuery {
		return false
	}
	if opts&IgnoreFragment == 0 && got.Fragment != want.Fragment {
		return false
	}
	return true
}

// MatchJSON deserializes the request body as JSON and deep-compares it
// to the canonical JSON form of want.
func MatchJSON(want any) Matcher {
	canonical, err := json.Marshal(want)
	if err != nil {
		return func(*http.Request) bool { return false }
	}
	var wantValue any
	if err := json.Unmarshal(canonical, &wantValue); err != nil {
		return func(*http.Request) bool { return false }
	}
	return func(req *http.Request) bool {
		body := peekBody(req)
		var gotValue any
		if err := json.Unmarshal(body, &gotValue); err != nil {
			return false
		}
		return reflect.DeepEqual(gotValue, wantValue)
	}
}

// MatchBody matches the request body byte for byte.
func MatchBody(want []byte) Matcher {
	return func(req *http.Request) bool {
		return bytes.Equal(peekBody(req), want)
	}
}

// MatchFunc adapts a user predicate into a Matcher.
func MatchFunc(fn func(req *http.Request) bool) Matcher {
	return Matcher(fn)
}

// MatchAll accepts every request. Pair it with EchoProducer for a
// catch-all echo stub.
func MatchAll() Matcher {
	return func(*http.Request) bool { return true }
}

// peekBody reads the request body and restores it so the request stays
// replayable by later matchers and producers.
func peekBody(req *http.Request) []byte {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return data
}
