// Package httpstub short-circuits an HTTP transport with locally
// synthesized responses selected by configurable request matchers.
//
// A stub rule pairs an AND-combined matcher set with per-method
// responses (static or produced dynamically per request). Rules live in
// a registry consulted by a stubbing http.RoundTripper:
//
//	reg := httpstub.Shared()
//	reg.Add(httpstub.NewRule(httpstub.MatchURLRegex(`https://api\.example\.com/users/\d+`)).
//	    Respond(http.MethodGet, &httpstub.StubResponse{
//	        Status:      200,
//	        ContentType: "application/json",
//	        Body:        []byte(`{"id": 42}`),
//	    }))
//	reg.Enable()
//	defer reg.Disable()
//
//	client := &http.Client{Transport: httpstub.NewTransport(reg, nil)}
//
// Matching walks rules in insertion order and picks the first whose
// matchers all accept the request. Ignore rules let selected requests
// pass through to the real transport; the registry's unhandled mode
// decides what happens to everything else (UnhandledOptIn passes
// through, UnhandledOptOut fails with ErrStubNotFound).
package httpstub
