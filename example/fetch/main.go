// Command fetch demonstrates the request pipeline: a stubbed API, an
// echo stub, and typed decoding.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/relaykit/relay-go/httpfetch"
	"github.com/relaykit/relay-go/httpstub"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func main() {
	reg := httpstub.Shared()
	reg.Add(httpstub.NewRule(httpstub.MatchURITemplate("https://api.example.com/users/{id}")).
		Respond(http.MethodGet, &httpstub.StubResponse{
			Status:      http.StatusOK,
			ContentType: "application/json",
			Body:        []byte(`{"id": 42, "name": "Ada"}`),
		}))
	reg.Add(httpstub.NewEchoRule())
	reg.Enable()
	defer reg.Disable()

	client := httpfetch.New(
		httpfetch.WithBaseURL("https://api.example.com"),
		httpfetch.WithStubRegistry(reg),
		httpfetch.WithMaxRetries(3),
		httpfetch.WithRetryDelays(200*time.Millisecond, 5*time.Second),
		httpfetch.WithGenerateCurl(true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := httpfetch.NewRequest(http.MethodGet, "/users/{id}").
		TemplateVar("id", "42").
		Header("Accept", "application/json")

	resp, err := client.Fetch(ctx, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetch:", err)
		os.Exit(1)
	}

	var u user
	if err := resp.DecodeJSON(&u); err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}

	fmt.Printf("user %d: %s (status %d, %d retries)\n", u.ID, u.Name, resp.StatusCode, resp.RetryCount)
	fmt.Println(resp.CurlCommand())

	echo, err := client.Fetch(ctx, httpfetch.NewRequest(http.MethodPost, "/echo").
		WithBody(httpfetch.RawBody{Data: []byte("hello"), ContentType: "text/plain"}))
	if err != nil {
		fmt.Fprintln(os.Stderr, "echo:", err)
		os.Exit(1)
	}
	fmt.Println("echo:", echo.String())
}
