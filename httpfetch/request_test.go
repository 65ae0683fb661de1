package httpfetch

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_ResolveURL(t *testing.T) {
	type args struct {
		req     *Request
		baseURL string
	}

	tests := []struct {
		name    string
		args    args
		want    string
		wantErr bool
	}{
		{
			name: "given absolute URL, then base is ignored",
			args: args{
				req:     NewRequest("GET", "https://other.example.com/x"),
				baseURL: "https://api.example.com",
			},
			want: "https://other.example.com/x",
		},
		{
			name: "given path and base, then joined",
			args: args{
				req:     NewRequest("GET", "/users"),
				baseURL: "https://api.example.com/",
			},
			want: "https://api.example.com/users",
		},
		{
			name: "given template variables, then expanded",
			args: args{
				req:     NewRequest("GET", "/users/{id}/posts/{postId}").TemplateVar("id", "42").TemplateVar("postId", "7"),
				baseURL: "https://api.example.com",
			},
			want: "https://api.example.com/users/42/posts/7",
		},
		{
			name: "given query items, then appended preserving order",
			args: args{
				req:     NewRequest("GET", "/search").AddQuery("z", "1").AddQuery("a", "2").AddQuery("z", "3"),
				baseURL: "https://api.example.com",
			},
			want: "https://api.example.com/search?z=1&a=2&z=3",
		},
		{
			name: "given relative path without base, then invalid URL",
			args: args{
				req: NewRequest("GET", "/users"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.args.req.resolveURL(tt.args.baseURL)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindInvalidURL, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequest_BuildWire_HeaderMerge(t *testing.T) {
	req := NewRequest("GET", "https://api.example.com/x").
		Header("X-Env", "request").
		Header("X-Only-Request", "1")

	defaults := NewHeaderSet("X-Env", "client", "X-Only-Client", "1")

	wire, _, err := req.buildWire(context.Background(), "", defaults)
	require.NoError(t, err)

	assert.Equal(t, "request", wire.Header.Get("X-Env"))
	assert.Equal(t, "1", wire.Header.Get("X-Only-Request"))
	assert.Equal(t, "1", wire.Header.Get("X-Only-Client"))
}

func TestRequest_BuildWire_ContentType(t *testing.T) {
	req := NewRequest("POST", "https://api.example.com/x").WithJSON(map[string]int{"a": 1})

	wire, wb, err := req.buildWire(context.Background(), "", HeaderSet{})
	require.NoError(t, err)

	assert.Equal(t, "application/json", wire.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"a":1}`, string(wb.data))
	assert.Equal(t, int64(len(wb.data)), wire.ContentLength)
}

func TestRequest_BuildWire_ExplicitContentTypeWins(t *testing.T) {
	req := NewRequest("POST", "https://api.example.com/x").
		WithJSON(map[string]int{"a": 1}).
		Header("Content-Type", "application/vnd.custom+json")

	wire, _, err := req.buildWire(context.Background(), "", HeaderSet{})
	require.NoError(t, err)

	assert.Equal(t, "application/vnd.custom+json", wire.Header.Get("Content-Type"))
}

func TestRequest_BuildWire_MutatorRunsLast(t *testing.T) {
	req := NewRequest("GET", "https://api.example.com/x").Header("X-Env", "prod")
	req.Mutate = func(wire *http.Request) error {
		wire.Header.Set("X-Env", "mutated")
		return nil
	}

	wire, _, err := req.buildWire(context.Background(), "", HeaderSet{})
	require.NoError(t, err)

	assert.Equal(t, "mutated", wire.Header.Get("X-Env"))
}

func TestRequest_BuildWire_BodyEncodingError(t *testing.T) {
	req := NewRequest("POST", "https://api.example.com/x").WithJSON(make(chan int))

	_, _, err := req.buildWire(context.Background(), "", HeaderSet{})

	require.Error(t, err)
	assert.Equal(t, KindJSONEncodingFailed, KindOf(err))
}

func TestNewRequest_AbsoluteVsPath(t *testing.T) {
	abs := NewRequest("GET", "https://api.example.com/x")
	assert.Equal(t, "https://api.example.com/x", abs.URL)
	assert.Empty(t, abs.Path)

	rel := NewRequest("GET", "/x")
	assert.Empty(t, rel.URL)
	assert.Equal(t, "/x", rel.Path)
}

func TestRequest_ID_Stable(t *testing.T) {
	req := NewRequest("GET", "/x")
	assert.NotEmpty(t, req.ID())
	assert.Equal(t, req.ID(), req.ID())
	assert.NotEqual(t, req.ID(), NewRequest("GET", "/x").ID())
}
