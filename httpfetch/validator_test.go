package httpfetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(opts ...Option) *internalConfig {
	return newInternalConfig(opts...)
}

func TestDefaultValidator(t *testing.T) {
	type args struct {
		opts []Option
		resp *Response
	}

	tests := []struct {
		name        string
		args        args
		wantKind    outcomeKind
		wantErrKind ErrorKind
	}{
		{
			name: "given success with body, then next",
			args: args{
				resp: &Response{StatusCode: 200, received: 4, data: []byte("body")},
			},
			wantKind: outcomeNext,
		},
		{
			name: "given empty body disallowed, then empty response failure",
			args: args{
				opts: []Option{WithAllowsEmptyResponses(false)},
				resp: &Response{StatusCode: 200},
			},
			wantKind:    outcomeFail,
			wantErrKind: KindEmptyResponse,
		},
		{
			name: "given empty body on 204, then next",
			args: args{
				opts: []Option{WithAllowsEmptyResponses(false)},
				resp: &Response{StatusCode: 204},
			},
			wantKind: outcomeNext,
		},
		{
			name: "given empty body allowed, then next",
			args: args{
				resp: &Response{StatusCode: 200},
			},
			wantKind: outcomeNext,
		},
		{
			name: "given retriable status, then retry",
			args: args{
				resp: &Response{StatusCode: 503, received: 1, data: []byte("x")},
			},
			wantKind: outcomeRetry,
		},
		{
			name: "given non-retriable error status, then failure",
			args: args{
				resp: &Response{StatusCode: 404, received: 1, data: []byte("x")},
			},
			wantKind:    outcomeFail,
			wantErrKind: KindOther,
		},
		{
			name: "given transport error with sentinel configured, then retry",
			args: args{
				opts: []Option{WithRetriableStatusCodes(503, StatusNone)},
				resp: &Response{StatusCode: StatusNone, Err: &Error{Kind: KindNetwork}},
			},
			wantKind: outcomeRetry,
		},
		{
			name: "given transport error without sentinel, then network failure",
			args: args{
				resp: &Response{StatusCode: StatusNone, Err: &Error{Kind: KindNetwork}},
			},
			wantKind:    outcomeFail,
			wantErrKind: KindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(tt.args.opts...)
			v := defaultValidator(cfg)

			outcome := v(tt.args.resp, NewRequest("GET", "https://x/y"))

			assert.Equal(t, tt.wantKind, outcome.kind)
			if tt.wantKind == outcomeFail {
				require.NotNil(t, outcome.err)
				assert.Equal(t, tt.wantErrKind, outcome.err.Kind)
			}
		})
	}
}

func TestDefaultValidator_RetryStrategyUsesConfiguredDelays(t *testing.T) {
	cfg := newTestConfig(WithRetryDelays(100*time.Millisecond, time.Second))
	v := defaultValidator(cfg)

	outcome := v(&Response{StatusCode: 503, received: 1, data: []byte("x")}, NewRequest("GET", "https://x/y"))

	require.Equal(t, outcomeRetry, outcome.kind)
	assert.Equal(t, 100*time.Millisecond, outcome.strategy.DelayFor(1))
	assert.Equal(t, 200*time.Millisecond, outcome.strategy.DelayFor(2))
	assert.Equal(t, time.Second, outcome.strategy.DelayFor(10))
}

func TestAltRequestValidator(t *testing.T) {
	alt := NewRequest("POST", "https://auth/refresh")
	v := AltRequestValidator(AltRequestConfig{
		MakeRequest: func(req *Request, resp *Response) *Request { return alt },
		Delay:       time.Second,
	})

	t.Run("given trigger status, then after retry with alt request", func(t *testing.T) {
		outcome := v(&Response{StatusCode: 401}, NewRequest("GET", "https://x/y"))

		require.Equal(t, outcomeRetry, outcome.kind)
		require.True(t, outcome.strategy.IsAfter())
		assert.Same(t, alt, outcome.strategy.AltRequest())
		assert.Equal(t, time.Second, outcome.strategy.DelayFor(1))
	})

	t.Run("given non-trigger status, then next", func(t *testing.T) {
		outcome := v(&Response{StatusCode: 500}, NewRequest("GET", "https://x/y"))
		assert.Equal(t, outcomeNext, outcome.kind)
	})

	t.Run("given default triggers, then 403 also triggers", func(t *testing.T) {
		outcome := v(&Response{StatusCode: 403}, NewRequest("GET", "https://x/y"))
		assert.Equal(t, outcomeRetry, outcome.kind)
	})
}

func TestAltRequestValidator_CustomTriggersAndNilAlt(t *testing.T) {
	v := AltRequestValidator(AltRequestConfig{
		TriggerStatusCodes: []int{StatusNone},
		MakeRequest:        func(req *Request, resp *Response) *Request { return nil },
	})

	assert.Equal(t, outcomeNext, v(&Response{StatusCode: 401}, nil).kind)
	assert.Equal(t, outcomeNext, v(&Response{StatusCode: StatusNone}, nil).kind)
}

func TestRunValidators(t *testing.T) {
	replacement := &Response{StatusCode: 299}

	type args struct {
		chain []Validator
	}

	tests := []struct {
		name     string
		args     args
		wantKind outcomeKind
		wantResp *Response
	}{
		{
			name:     "given empty chain, then next",
			args:     args{chain: nil},
			wantKind: outcomeNext,
		},
		{
			name: "given replacement, then later validators see it",
			args: args{chain: []Validator{
				func(resp *Response, req *Request) Outcome { return Replace(replacement) },
				func(resp *Response, req *Request) Outcome {
					if resp != replacement {
						return Fail(&Error{Kind: KindInternal})
					}
					return Next()
				},
			}},
			wantKind: outcomeReplace,
			wantResp: replacement,
		},
		{
			name: "given failure, then chain terminates",
			args: args{chain: []Validator{
				func(resp *Response, req *Request) Outcome { return Fail(&Error{Kind: KindValidatorFailure}) },
				func(resp *Response, req *Request) Outcome { panic("must not run") },
			}},
			wantKind: outcomeFail,
		},
		{
			name: "given retry, then chain terminates",
			args: args{chain: []Validator{
				func(resp *Response, req *Request) Outcome { return Retry(Immediate()) },
				func(resp *Response, req *Request) Outcome { panic("must not run") },
			}},
			wantKind: outcomeRetry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := runValidators(tt.args.chain, &Response{StatusCode: 200}, nil)

			assert.Equal(t, tt.wantKind, outcome.kind)
			if tt.wantResp != nil {
				assert.Same(t, tt.wantResp, outcome.replacement)
			}
		})
	}
}
