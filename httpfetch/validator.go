package httpfetch

import (
	"time"
)

// Validator decides the fate of a completed response. Validators run in
// chain order; the first outcome other than Next or Replace terminates
// the pass.
type Validator func(resp *Response, req *Request) Outcome

// Outcome is the tagged result of one validator evaluation. Construct
// values with Next, Replace, Fail, or Retry.
type Outcome struct {
	kind        outcomeKind
	replacement *Response
	err         *Error
	strategy    RetryStrategy
}

type outcomeKind int

const (
	outcomeNext outcomeKind = iota
	outcomeReplace
	outcomeFail
	outcomeRetry
)

// Next passes the response unchanged to the next validator.
func Next() Outcome {
	return Outcome{kind: outcomeNext}
}

// Replace passes a replacement response to the next validator.
func Replace(resp *Response) Outcome {
	return Outcome{kind: outcomeReplace, replacement: resp}
}

// Fail terminates the chain with an error.
func Fail(err *Error) Outcome {
	return Outcome{kind: outcomeFail, err: err}
}

// Retry terminates the chain and schedules another attempt.
func Retry(strategy RetryStrategy) Outcome {
	return Outcome{kind: outcomeRetry, strategy: strategy}
}

// defaultValidator enforces the baseline response policy: reject
// unexpected empty bodies, and retry retriable status codes (or
// transport failures, via the StatusNone sentinel) with exponential
// backoff while the retry budget lasts.
func defaultValidator(cfg *internalConfig) Validator {
	return func(resp *Response, req *Request) Outcome {
		status := resp.StatusCode

		if !cfg.AllowsEmptyResponses &&
			resp.Err == nil &&
			resp.BodyLength() == 0 &&
			!isNoContentStatus(status) {
			return Fail(&Error{Kind: KindEmptyResponse, StatusCode: status})
		}

		failed := IsErrorStatus(status) || resp.Err != nil
		if !failed {
			return Next()
		}

		// The executor converts a retry past the budget into
		// retryAttemptsReached, so no budget check happens here.
		if cfg.retriable(status) {
			return Retry(Exponential(cfg.RetryBaseDelay, cfg.RetryMaxDelay))
		}

		if resp.Err != nil {
			if e, ok := resp.Err.(*Error); ok {
				return Fail(e)
			}
			return Fail(&Error{Kind: KindNetwork, StatusCode: status, Err: resp.Err})
		}
		return Fail(&Error{Kind: KindOther, StatusCode: status})
	}
}

// AltRequestConfig configures AltRequestValidator.
type AltRequestConfig struct {
	// TriggerStatusCodes are the statuses that trigger the alternate
	// request. Default: {401, 403}. Include StatusNone to also cover
	// transport failures.
	TriggerStatusCodes []int

	// MakeRequest derives the alternate request from the failed
	// exchange. Required.
	MakeRequest func(req *Request, resp *Response) *Request

	// Delay is the wait between the alternate request's completion and
	// the retry of the original.
	Delay time.Duration

	// OnResponse mutates the original request using the alternate
	// response, typically installing an authorization header.
	OnResponse func(req *Request, altResp *Response) error
}

// AltRequestValidator converts trigger statuses into an After retry: the
// alternate request runs first (with its own, independent retry budget),
// OnResponse mutates the original request from its response, and the
// original is retried Delay later.
func AltRequestValidator(cfg AltRequestConfig) Validator {
	triggers := cfg.TriggerStatusCodes
	if len(triggers) == 0 {
		triggers = []int{401, 403}
	}
	triggerSet := make(map[int]struct{}, len(triggers))
	for _, code := range triggers {
		triggerSet[code] = struct{}{}
	}

	return func(resp *Response, req *Request) Outcome {
		if _, ok := triggerSet[resp.StatusCode]; !ok {
			return Next()
		}
		alt := cfg.MakeRequest(req, resp)
		if alt == nil {
			return Next()
		}
		return Retry(After(alt, cfg.Delay, cfg.OnResponse))
	}
}
