package httpfetch

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"github.com/relaykit/relay-go/httpstub"
)

// Client executes requests through a configured transport chain,
// applying default headers, the validator chain, and retry handling.
// Clients are safe for concurrent use and should be reused: the
// underlying transport caches connections.
type Client struct {
	cfg       *internalConfig
	transport http.RoundTripper
	loader    *loader
}

// New creates a Client. Options follow the functional pattern:
//
//	client := httpfetch.New(
//	    httpfetch.WithBaseURL("https://api.example.com"),
//	    httpfetch.WithMaxRetries(3),
//	    httpfetch.WithRetriableStatusCodes(429, 502, 503, 504, httpfetch.StatusNone),
//	)
func New(opts ...Option) *Client {
	cfg := newInternalConfig(opts...)

	var jar http.CookieJar
	if cfg.HTTPShouldSetCookies {
		jar = cfg.CookieJar
		if jar == nil {
			jar, _ = cookiejar.New(nil)
		}
	}

	base := cfg.buildTransport()
	chain := base
	if cfg.StubRegistry != nil {
		chain = &httpstub.Transport{
			Registry: cfg.StubRegistry,
			Base:     base,
			Jar:      jar,
		}
	}

	return &Client{
		cfg:       cfg,
		transport: chain,
		loader: &loader{
			transport: chain,
			jar:       jar,
			logger:    cfg.Logger,
			debug:     cfg.Debug,
		},
	}
}

// Transport exposes the client's transport chain, including the stub
// shim when one is configured.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// SetDefaultHeader updates a client-wide default header. Safe to call
// while requests are in flight; attempts already composed keep the
// snapshot they took.
func (c *Client) SetDefaultHeader(name, value string) {
	c.cfg.setDefaultHeader(name, value)
}

// validators returns the effective chain: pre-validators, then the
// default validator (unless removed), then the custom validators in the
// order added.
func (c *Client) validators() []Validator {
	chain := make([]Validator, 0, len(c.cfg.PreValidators)+len(c.cfg.Validators)+1)
	chain = append(chain, c.cfg.PreValidators...)
	if !c.cfg.DisableDefaultValidator {
		chain = append(chain, defaultValidator(c.cfg))
	}
	return append(chain, c.cfg.Validators...)
}

func (c *Client) delegate() Delegate {
	if c.cfg.Delegate != nil {
		return c.cfg.Delegate
	}
	return NopDelegate{}
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// DefaultClient returns the shared process-wide client, creating it
// with default options on first use.
func DefaultClient() *Client {
	defaultOnce.Do(func() {
		defaultClient = New()
	})
	return defaultClient
}

// Fetch executes req on the shared default client.
func Fetch(ctx context.Context, req *Request) (*Response, error) {
	return DefaultClient().Fetch(ctx, req)
}
