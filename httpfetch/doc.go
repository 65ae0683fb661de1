// Package httpfetch provides a resilient HTTP request pipeline with
// validator-driven retries, streaming downloads, and progress reporting.
//
// # Features
//
//   - Fluent request description with RFC 6570 path templates
//   - Ordered, case-insensitive header store
//   - Validator chain deciding accept / replace / fail / retry per response
//   - Retry strategies: immediate, fixed delay, exponential, fibonacci,
//     and alternate-request ("silent login") retries
//   - Buffered and large-data transfer modes (spill to file, resumable)
//   - Progress events for uploads, downloads, resumes, and failures
//   - OpenTelemetry metrics and per-stage network timing
//
// # Quick Start
//
//	client := httpfetch.New(
//	    httpfetch.WithBaseURL("https://api.example.com"),
//	    httpfetch.WithMaxRetries(3),
//	)
//
//	req := httpfetch.NewRequest(http.MethodGet, "/users/{id}").
//	    TemplateVar("id", "42").
//	    Header("Accept", "application/json")
//
//	resp, err := client.Fetch(ctx, req)
//	if err != nil {
//	    return err
//	}
//
//	var user User
//	if err := resp.DecodeJSON(&user); err != nil {
//	    return err
//	}
//
// # Retries
//
// Every completed attempt runs through the client's validator chain. The
// default validator retries retriable status codes with exponential backoff
// until the request's retry budget is spent. Custom validators can convert
// any response into a retry, including retries that first execute an
// alternate request (for example a token refresh before replaying the
// original call):
//
//	client := httpfetch.New(
//	    httpfetch.WithPreValidator(httpfetch.AltRequestValidator(httpfetch.AltRequestConfig{
//	        TriggerStatusCodes: []int{http.StatusUnauthorized},
//	        MakeRequest: func(req *httpfetch.Request, resp *httpfetch.Response) *httpfetch.Request {
//	            return httpfetch.NewRequest(http.MethodPost, "/auth/refresh")
//	        },
//	        OnResponse: func(req *httpfetch.Request, alt *httpfetch.Response) error {
//	            var tok struct{ Token string `json:"token"` }
//	            if err := alt.DecodeJSON(&tok); err != nil {
//	                return err
//	            }
//	            req.Headers.Set("Authorization", "Bearer "+tok.Token)
//	            return nil
//	        },
//	    })),
//	)
//
// # Large downloads
//
// With TransferModeLargeData the response body is spilled to a temporary
// file and is not held in memory unless read through Response.Data or
// Response.String. Cancelling mid-transfer can return
// resumable bytes that a follow-up request consumes to continue where the
// transfer stopped. The spill file belongs to the caller: delete it when
// done.
//
// # Stubbing
//
// The sibling package httpstub short-circuits the transport with locally
// synthesized responses. Wire it in with WithStubRegistry:
//
//	reg := httpstub.Shared()
//	reg.Add(httpstub.NewRule(httpstub.MatchURLRegex(`/users/\d+`)).
//	    Respond(http.MethodGet, &httpstub.StubResponse{Status: 200, Body: []byte(`{"id":42}`)}))
//	reg.Enable()
//
//	client := httpfetch.New(httpfetch.WithStubRegistry(reg))
package httpfetch
