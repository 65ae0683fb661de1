package httpstub

import (
	"errors"
	"net/http"
	"sync"
)

// ErrStubNotFound is returned by the stubbing transport when the
// registry is enabled in UnhandledOptOut mode and no rule matches the
// request.
var ErrStubNotFound = errors.New("httpstub: no stub matched the request")

// UnhandledMode decides the fate of requests no stub or ignore rule
// matches while the registry is enabled.
type UnhandledMode int

const (
	// UnhandledOptOut fails unmatched requests with ErrStubNotFound.
	// This is the default: an enabled registry intercepts everything.
	UnhandledOptOut UnhandledMode = iota

	// UnhandledOptIn passes unmatched requests through to the real
	// transport.
	UnhandledOptIn
)

// Registry is a store of stub and ignore rules with an enabled flag.
// All methods are safe for concurrent use; mutations while requests are
// in flight take effect on subsequent matchings.
type Registry struct {
	mu        sync.RWMutex
	rules     []*StubRule
	ignores   []*IgnoreRule
	enabled   bool
	unhandled UnhandledMode
}

// NewRegistry creates an empty, disabled registry.
func NewRegistry() *Registry {
	return &Registry{}
}

var (
	sharedOnce sync.Once
	shared     *Registry
)

// Shared returns the process-wide registry, creating it on first use.
func Shared() *Registry {
	sharedOnce.Do(func() {
		shared = NewRegistry()
	})
	return shared
}

// Add appends a stub rule. Matching walks rules in insertion order.
func (g *Registry) Add(rule *StubRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule)
}

// Remove deletes a previously added stub rule.
func (g *Registry) Remove(rule *StubRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, r := range g.rules {
		if r == rule {
			// Copy into a fresh slice: a concurrent Match may still be
			// iterating the old one.
			g.rules = append(g.rules[:i:i], g.rules[i+1:]...)
			return
		}
	}
}

// RemoveAll drops every stub and ignore rule.
func (g *Registry) RemoveAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = nil
	g.ignores = nil
}

// AddIgnore appends an ignore rule.
func (g *Registry) AddIgnore(rule *IgnoreRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ignores = append(g.ignores, rule)
}

// Enable turns interception on.
func (g *Registry) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = true
}

// Disable turns interception off; every request reaches the real
// transport.
func (g *Registry) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = false
}

// Enabled reports whether interception is on.
func (g *Registry) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// SetUnhandledMode selects the fate of unmatched requests.
func (g *Registry) SetUnhandledMode(mode UnhandledMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unhandled = mode
}

// UnhandledMode returns the current unhandled mode.
func (g *Registry) UnhandledMode() UnhandledMode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unhandled
}

// Match returns the first stub rule whose matchers all accept req, or
// nil. Ordering in the rule list fully determines the outcome.
func (g *Registry) Match(req *http.Request) *StubRule {
	g.mu.RLock()
	rules := g.rules
	g.mu.RUnlock()
	for _, rule := range rules {
		if rule.Matches(req) {
			return rule
		}
	}
	return nil
}

// matchIgnore reports whether any ignore rule accepts req.
func (g *Registry) matchIgnore(req *http.Request) bool {
	g.mu.RLock()
	ignores := g.ignores
	g.mu.RUnlock()
	for _, rule := range ignores {
		if rule.Matches(req) {
			return true
		}
	}
	return false
}

// ShouldHandle reports whether the stubbing transport should answer req
// locally instead of delegating to the real transport. Matching ignore
// rules always pass through; unmatched requests follow the unhandled
// mode (opt-out keeps them, so they fail with ErrStubNotFound).
func (g *Registry) ShouldHandle(req *http.Request) bool {
	if !g.Enabled() {
		return false
	}
	if g.matchIgnore(req) {
		return false
	}
	if g.Match(req) != nil {
		return true
	}
	return g.UnhandledMode() == UnhandledOptOut
}
