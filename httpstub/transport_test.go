package httpstub

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enabledRegistry(rules ...*StubRule) *Registry {
	reg := NewRegistry()
	for _, r := range rules {
		reg.Add(r)
	}
	reg.Enable()
	return reg
}

func TestTransport_StaticStub(t *testing.T) {
	rule := NewRule(MatchURLRegex(`/users/42`)).Respond(http.MethodGet, &StubResponse{
		Status:      200,
		ContentType: "application/json",
		Body:        []byte(`{"id":42}`),
	})
	tr := NewTransport(enabledRegistry(rule), nil)

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/users/42", nil)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(9), resp.ContentLength)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42}`, string(body))
}

func TestTransport_Producer(t *testing.T) {
	rule := NewRule(MatchAll()).RespondWith(http.MethodPost, EchoProducer)
	tr := NewTransport(enabledRegistry(rule), nil)

	req := httptest.NewRequest(http.MethodPost, "http://x/y", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"a":1}`, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestTransport_SyntheticFailure(t *testing.T) {
	boom := errors.New("simulated outage")
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{Err: boom})
	tr := NewTransport(enabledRegistry(rule), nil)

	_, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://x/y", nil))

	assert.ErrorIs(t, err, boom)
}

func TestTransport_DelayedResponse(t *testing.T) {
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{
		Status: 200,
		Body:   []byte("late"),
		Delay:  50 * time.Millisecond,
	})
	tr := NewTransport(enabledRegistry(rule), nil)

	start := time.Now()
	resp, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://x/y", nil))
	require.NoError(t, err)
	resp.Body.Close()

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTransport_DelayedResponseCancelled(t *testing.T) {
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{
		Status: 200,
		Delay:  10 * time.Second,
	})
	tr := NewTransport(enabledRegistry(rule), nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "http://x/y", nil).WithContext(ctx)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := tr.RoundTrip(req)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second, "cancel must also cancel the delay timer")
}

func TestTransport_UnmatchedOptOut(t *testing.T) {
	reg := NewRegistry()
	reg.Enable()
	tr := NewTransport(reg, nil)

	_, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://x/y", nil))

	assert.ErrorIs(t, err, ErrStubNotFound)
}

func TestTransport_UnmatchedOptInPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.SetUnhandledMode(UnhandledOptIn)
	reg.Enable()
	tr := NewTransport(reg, nil)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/missing", nil)
	require.NoError(t, err)

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransport_DisabledRegistryPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("real"))
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.Add(NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{Status: 200, Body: []byte("stubbed")}))

	tr := NewTransport(reg, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "real", string(body))
}

func TestTransport_CookieMerging(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	var seenCookie string
	rule := NewRule(MatchAll()).RespondWith(http.MethodGet, func(req *http.Request, _ *StubRule) *StubResponse {
		if c, err := req.Cookie("session"); err == nil {
			seenCookie = c.Value
		}
		headers := make(http.Header)
		headers.Add("Set-Cookie", "session=abc123; Path=/")
		return &StubResponse{Status: 200, Headers: headers, Body: []byte("ok")}
	})

	reg := enabledRegistry(rule)
	tr := NewTransport(reg, nil)
	tr.Jar = jar

	// First exchange stores the cookie from the stub response.
	req1, _ := http.NewRequest(http.MethodGet, "http://cookie.example.com/a", nil)
	resp1, err := tr.RoundTrip(req1)
	require.NoError(t, err)
	resp1.Body.Close()

	stored := jar.Cookies(req1.URL)
	require.Len(t, stored, 1)
	assert.Equal(t, "abc123", stored[0].Value)

	// Second exchange replays it into the stubbed request.
	req2, _ := http.NewRequest(http.MethodGet, "http://cookie.example.com/b", nil)
	resp2, err := tr.RoundTrip(req2)
	require.NoError(t, err)
	resp2.Body.Close()

	assert.Equal(t, "abc123", seenCookie)
}

func TestTransport_RedirectFromLocationHeader(t *testing.T) {
	headers := make(http.Header)
	headers.Set("Location", "https://api.example.com/moved")
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{Status: 302, Headers: headers})

	var redirected *http.Request
	tr := NewTransport(enabledRegistry(rule), nil)
	tr.OnRedirect = func(next *http.Request) { redirected = next }

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/old", nil)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 302, resp.StatusCode)
	require.NotNil(t, redirected, "redirect event must fire before delivery")
	assert.Equal(t, "https://api.example.com/moved", redirected.URL.String())
}

func TestTransport_RedirectFromBodyTarget(t *testing.T) {
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{
		Status: 301,
		Body:   []byte("https://api.example.com/new-home"),
	})

	var redirected *http.Request
	tr := NewTransport(enabledRegistry(rule), nil)
	tr.OnRedirect = func(next *http.Request) { redirected = next }

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/old", nil)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://api.example.com/new-home", resp.Header.Get("Location"),
		"body target must be promoted into the Location header")
	require.NotNil(t, redirected)
	assert.Equal(t, "/new-home", redirected.URL.Path)
}

func TestTransport_NoRedirectEventFor304(t *testing.T) {
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{Status: 304})

	var redirected bool
	tr := NewTransport(enabledRegistry(rule), nil)
	tr.OnRedirect = func(*http.Request) { redirected = true }

	resp, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "https://x/y", nil))
	require.NoError(t, err)
	resp.Body.Close()

	assert.False(t, redirected)
}

func TestTransport_CacheNoStore(t *testing.T) {
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{
		Status:      200,
		Body:        []byte("x"),
		CachePolicy: CacheNoStore,
	})
	tr := NewTransport(enabledRegistry(rule), nil)

	resp, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "https://x/y", nil))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestTransport_MethodWithoutResponse(t *testing.T) {
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{Status: 200})
	tr := NewTransport(enabledRegistry(rule), nil)

	_, err := tr.RoundTrip(httptest.NewRequest(http.MethodDelete, "https://x/y", nil))

	assert.ErrorIs(t, err, ErrStubNotFound)
}

func TestTransport_StreamedBody(t *testing.T) {
	rule := NewRule(MatchAll()).Respond(http.MethodGet, &StubResponse{
		Status:     200,
		BodyReader: strings.NewReader("streamed"),
	})
	tr := NewTransport(enabledRegistry(rule), nil)

	resp, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "https://x/y", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "streamed", string(body))
	assert.Equal(t, int64(-1), resp.ContentLength)
}
