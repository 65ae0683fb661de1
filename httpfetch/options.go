package httpfetch

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/relaykit/relay-go/httpstub"
)

// Config holds the transport configuration parameters. Use
// DefaultConfig() for a properly initialized value, then modify fields
// as needed.
type Config struct {
	// Timeout bounds each individual request attempt, not the sum
	// across retries. Zero means no timeout.
	//
	// Default: 15s
	Timeout time.Duration

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host.
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps total connections per host. Zero means
	// unlimited.
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout closes idle connections after this long.
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	// Default: 30s
	KeepAlive time.Duration

	// DisableCompression disables transparent gzip.
	// Default: true
	DisableCompression bool

	// AllowsCellularAccess records whether constrained-path networking
	// is acceptable. The Go runtime cannot steer interface selection;
	// the flag is surfaced as a metric attribute for fleet policy.
	// Default: true
	AllowsCellularAccess bool

	// NetworkServiceType is an advisory traffic-class label recorded
	// alongside metrics.
	NetworkServiceType string
}

// DefaultConfig returns a balanced configuration suitable for most use
// cases.
func DefaultConfig() Config {
	return Config{
		Timeout:              15 * time.Second,
		MaxIdleConns:         100,
		MaxIdleConnsPerHost:  20,
		MaxConnsPerHost:      100,
		IdleConnTimeout:      90 * time.Second,
		TLSHandshakeTimeout:  10 * time.Second,
		DialTimeout:          5 * time.Second,
		KeepAlive:            30 * time.Second,
		DisableCompression:   true,
		AllowsCellularAccess: true,
	}
}

// Default retry pacing for the default validator's exponential backoff.
const (
	// DefaultRetryBaseDelay is the first exponential backoff interval.
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// DefaultRetryMaxDelay caps exponential backoff intervals.
	DefaultRetryMaxDelay = 30 * time.Second
)

// defaultRetriableStatusCodes mirror production-safe retry rules:
// rate limiting and transient gateway failures.
var defaultRetriableStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// internalConfig holds all client configuration.
type internalConfig struct {
	httpConfig Config

	BaseURL string

	// headerMu guards DefaultHeaders: user code may mutate them while
	// requests are in flight; each attempt takes a snapshot.
	headerMu       sync.Mutex
	DefaultHeaders HeaderSet

	MaxRetries           int
	AllowsEmptyResponses bool
	RetriableStatusCodes map[int]struct{}
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration

	RedirectPolicy       RedirectPolicy
	HTTPShouldSetCookies bool
	CookieJar            http.CookieJar

	PreValidators           []Validator
	Validators              []Validator
	DisableDefaultValidator bool

	Transport    http.RoundTripper
	ProxyURL     *url.URL
	StubRegistry *httpstub.Registry

	Delegate Delegate
	Limiter  *rate.Limiter

	Debug        bool
	GenerateCurl bool
	Logger       zerolog.Logger

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Tracer         trace.Tracer
	Instruments    *instruments
}

func newInternalConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:           DefaultConfig(),
		DefaultHeaders:       DefaultHeaders(),
		MaxRetries:           0,
		AllowsEmptyResponses: true,
		RetryBaseDelay:       DefaultRetryBaseDelay,
		RetryMaxDelay:        DefaultRetryMaxDelay,
		HTTPShouldSetCookies: true,
		Logger:               zerolog.New(os.Stdout).With().Timestamp().Logger(),
		MeterProvider:        otel.GetMeterProvider(),
		TracerProvider:       otel.GetTracerProvider(),
	}
	cfg.RetriableStatusCodes = make(map[int]struct{}, len(defaultRetriableStatusCodes))
	for _, code := range defaultRetriableStatusCodes {
		cfg.RetriableStatusCodes[code] = struct{}{}
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Instruments, _ = newInstruments(cfg.MeterProvider.Meter(scope))
	return cfg
}

// retriable reports whether a status code (or StatusNone for transport
// failures) is in the retriable set.
func (cfg *internalConfig) retriable(status int) bool {
	_, ok := cfg.RetriableStatusCodes[status]
	return ok
}

// maxRetriesFor resolves the effective retry budget of a request.
func (cfg *internalConfig) maxRetriesFor(req *Request) int {
	if req.MaxRetries >= 0 {
		return req.MaxRetries
	}
	return cfg.MaxRetries
}

// defaultHeaderSnapshot copies the default headers under the lock.
func (cfg *internalConfig) defaultHeaderSnapshot() HeaderSet {
	cfg.headerMu.Lock()
	defer cfg.headerMu.Unlock()
	return cfg.DefaultHeaders.Clone()
}

// setDefaultHeader mutates the default headers under the lock.
func (cfg *internalConfig) setDefaultHeader(name, value string) {
	cfg.headerMu.Lock()
	defer cfg.headerMu.Unlock()
	cfg.DefaultHeaders.Set(name, value)
}

// redirectPolicyFor resolves the effective redirect policy: the
// request's own policy when it overrides the follow default, else the
// client's.
func (cfg *internalConfig) redirectPolicyFor(req *Request) RedirectPolicy {
	if req.RedirectPolicy != RedirectFollow {
		return req.RedirectPolicy
	}
	return cfg.RedirectPolicy
}

// timeoutFor resolves the effective per-attempt timeout of a request.
func (cfg *internalConfig) timeoutFor(req *Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return cfg.httpConfig.Timeout
}

// baseAttributes returns common attributes for metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if cfg.httpConfig.NetworkServiceType != "" {
		attrs = append(attrs, attribute.String("network.service_type", cfg.httpConfig.NetworkServiceType))
	}
	attrs = append(attrs, attribute.Bool("network.allows_cellular", cfg.httpConfig.AllowsCellularAccess))
	return attrs
}

// buildTransport creates an http.Transport from the configuration.
func (cfg *internalConfig) buildTransport() http.RoundTripper {
	if cfg.Transport != nil {
		return cfg.Transport
	}
	hc := cfg.httpConfig
	dialer := &net.Dialer{
		Timeout:   hc.DialTimeout,
		KeepAlive: hc.KeepAlive,
	}
	proxy := http.ProxyFromEnvironment
	if cfg.ProxyURL != nil {
		proxy = http.ProxyURL(cfg.ProxyURL)
	}
	return &http.Transport{
		Proxy:               proxy,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        hc.MaxIdleConns,
		MaxIdleConnsPerHost: hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:     hc.MaxConnsPerHost,
		IdleConnTimeout:     hc.IdleConnTimeout,
		TLSHandshakeTimeout: hc.TLSHandshakeTimeout,
		DisableCompression:  hc.DisableCompression,
	}
}

// Option configures the client.
type Option func(*internalConfig)

// WithConfig sets the transport configuration.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithBaseURL sets the base URL joined with request paths.
func WithBaseURL(baseURL string) Option {
	return func(cfg *internalConfig) {
		cfg.BaseURL = baseURL
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig.Timeout = d
	}
}

// WithMaxRetries sets the client-wide default retry budget. Individual
// requests override it with Request.MaxRetries.
func WithMaxRetries(n int) Option {
	return func(cfg *internalConfig) {
		cfg.MaxRetries = n
	}
}

// WithAllowsEmptyResponses controls whether a zero-length body outside
// the no-content statuses (204, 205, 304) is an error.
//
// Default: true (empty bodies allowed)
func WithAllowsEmptyResponses(allowed bool) Option {
	return func(cfg *internalConfig) {
		cfg.AllowsEmptyResponses = allowed
	}
}

// WithRetriableStatusCodes replaces the set of status codes the default
// validator retries. Include StatusNone to retry transport failures.
func WithRetriableStatusCodes(codes ...int) Option {
	return func(cfg *internalConfig) {
		cfg.RetriableStatusCodes = make(map[int]struct{}, len(codes))
		for _, code := range codes {
			cfg.RetriableStatusCodes[code] = struct{}{}
		}
	}
}

// WithRetryDelays sets the base and cap of the default validator's
// exponential backoff.
func WithRetryDelays(base, max time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.RetryBaseDelay = base
		cfg.RetryMaxDelay = max
	}
}

// WithRedirectPolicy sets the client-wide redirect policy.
func WithRedirectPolicy(p RedirectPolicy) Option {
	return func(cfg *internalConfig) {
		cfg.RedirectPolicy = p
	}
}

// WithCookieJar sets the cookie storage shared by requests and stubs.
func WithCookieJar(jar http.CookieJar) Option {
	return func(cfg *internalConfig) {
		cfg.CookieJar = jar
	}
}

// WithHTTPShouldSetCookies controls whether cookies are stored and
// replayed at all.
//
// Default: true
func WithHTTPShouldSetCookies(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.HTTPShouldSetCookies = enabled
	}
}

// WithDefaultHeader adds a header applied to every request unless the
// request overrides it.
func WithDefaultHeader(name, value string) Option {
	return func(cfg *internalConfig) {
		cfg.DefaultHeaders.Set(name, value)
	}
}

// WithValidator appends a custom validator; custom validators run after
// the default validator in the order added.
func WithValidator(v Validator) Option {
	return func(cfg *internalConfig) {
		cfg.Validators = append(cfg.Validators, v)
	}
}

// WithPreValidator appends a custom validator that runs before the
// default validator. Use this for validators that must see responses
// the default validator would fail, such as AltRequestValidator on
// auth-challenge statuses.
func WithPreValidator(v Validator) Option {
	return func(cfg *internalConfig) {
		cfg.PreValidators = append(cfg.PreValidators, v)
	}
}

// WithoutDefaultValidator removes the always-present default validator.
func WithoutDefaultValidator() Option {
	return func(cfg *internalConfig) {
		cfg.DisableDefaultValidator = true
	}
}

// WithTransport replaces the underlying transport. The stub shim, when
// configured, still wraps it.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = rt
	}
}

// WithStubRegistry wires a stub registry in front of the transport;
// when the registry is enabled, matching requests are answered locally.
func WithStubRegistry(reg *httpstub.Registry) Option {
	return func(cfg *internalConfig) {
		cfg.StubRegistry = reg
	}
}

// WithDelegate installs a lifecycle observer.
func WithDelegate(d Delegate) Option {
	return func(cfg *internalConfig) {
		cfg.Delegate = d
	}
}

// WithRateLimit gates attempt dispatch on a token bucket.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(cfg *internalConfig) {
		cfg.Limiter = rate.NewLimiter(limit, burst)
	}
}

// WithDebug enables attempt/response logging.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}

// WithGenerateCurl populates Response.CurlCommand for every request.
func WithGenerateCurl(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.GenerateCurl = enabled
	}
}

// WithLogger replaces the package default zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithProxyURL routes requests through a specific proxy instead of the
// proxy environment variables.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
	}
}
