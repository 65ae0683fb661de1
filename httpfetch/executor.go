package httpfetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Fetch drives req to completion: it composes the wire request, runs it
// through the transport chain (stub shim first, when configured), feeds
// each completed attempt to the validator chain, and honors the retry
// strategies the chain returns, up to the request's retry budget.
//
// The returned response is non-nil whenever at least one attempt
// completed; on failure its Err field references the same error Fetch
// returns. Construction failures (URL, body encoding) surface before
// any transport call with a nil response.
//
// Cancelling ctx aborts the current wait point (transfer, retry delay,
// or nested alternate fetch) and returns a KindCancelled error.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	cfg := c.cfg
	delegate := c.delegate()
	validators := c.validators()

	ctx, span := cfg.Tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	metrics := &Metrics{}
	metrics.TaskInterval.Start = time.Now()

	delegate.DidEnqueue(req)

	var (
		retriesUsed     int
		originalWire    *http.Request
		resumeData      = req.ResumeData
		lastResp        *Response
		waitingNotified bool
	)

	finish := func(resp *Response, err error) (*Response, error) {
		metrics.TaskInterval.End = time.Now()
		cfg.Instruments.recordRequestDuration(ctx, metrics.TaskInterval.Duration(), cfg.baseAttributes())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if resp != nil {
			span.SetAttributes(
				attribute.Int("http.status_code", resp.StatusCode),
				attribute.Int("http.retry_count", resp.RetryCount),
			)
			delegate.DidCollectMetrics(req, metrics)
			delegate.DidFinish(req, resp)
		}
		return resp, err
	}

	// failLast ends the request with err, attaching it to the response of
	// the last completed attempt when there is one.
	failLast := func(err error) (*Response, error) {
		if lastResp != nil {
			lastResp.Err = err
		}
		return finish(lastResp, err)
	}

	for {
		if cfg.Limiter != nil {
			if err := cfg.Limiter.Wait(ctx); err != nil {
				return failLast(WrapError(KindCancelled, err))
			}
		}

		attemptCtx := ctx
		cancelAttempt := func() {}
		if timeout := cfg.timeoutFor(req); timeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(ctx, timeout)
		}

		wire, wb, err := req.buildWire(attemptCtx, cfg.BaseURL, cfg.defaultHeaderSnapshot())
		if err != nil {
			cancelAttempt()
			return failLast(err)
		}
		if originalWire == nil {
			originalWire = wire
		}

		loaderRes, transportErr := c.loader.fetch(loaderCall{
			wire:           wire,
			mode:           req.TransferMode,
			resumeData:     resumeData,
			sink:           req.OnProgress,
			redirectPolicy: cfg.redirectPolicyFor(req),
			produceResume:  req.ProduceResumeData,
			onRedirect: func(next *http.Request, _ []*http.Request) {
				delegate.WillPerformRedirect(req, next)
			},
		})
		cancelAttempt()
		resumeData = nil

		metrics.Transactions = append(metrics.Transactions, loaderRes.metrics.Transactions...)
		metrics.RedirectCount += loaderRes.metrics.RedirectCount
		for _, tx := range loaderRes.metrics.Transactions {
			cfg.Instruments.recordTransaction(ctx, tx, cfg.baseAttributes())
		}

		resp := c.buildResponse(req, wire, wb, originalWire, loaderRes, transportErr, retriesUsed)
		resp.Metrics = metrics
		lastResp = resp

		if KindOf(resp.Err) == KindMissingConnection && !waitingNotified {
			waitingNotified = true
			delegate.TaskIsWaitingForConnectivity(req)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusProxyAuthRequired {
			delegate.DidReceiveAuthChallenge(req, resp)
		}

		// Cancellation is terminal: never validated, never retried.
		if KindOf(resp.Err) == KindCancelled {
			return finish(resp, resp.Err)
		}

		outcome := runValidators(validators, resp, req)
		switch outcome.kind {
		case outcomeNext, outcomeReplace:
			if outcome.replacement != nil {
				resp = outcome.replacement
			}
			return finish(resp, nil)

		case outcomeFail:
			resp.Err = outcome.err
			return finish(resp, outcome.err)

		case outcomeRetry:
			retriesUsed++
			if retriesUsed > cfg.maxRetriesFor(req) {
				err := &Error{Kind: KindRetryAttemptsReached, StatusCode: resp.StatusCode, Err: resp.Err}
				resp.Err = err
				cfg.Instruments.recordRetryExhausted(ctx, cfg.baseAttributes())
				return finish(resp, err)
			}

			strategy := outcome.strategy
			delegate.WillRetry(req, strategy, resp)
			cfg.Instruments.recordRetryAttempt(ctx, cfg.baseAttributes())
			span.AddEvent("http.retry", trace.WithAttributes(
				attribute.Int("retry.attempt", retriesUsed),
				attribute.String("retry.strategy", strategy.String()),
			))

			if strategy.IsAfter() {
				if err := c.runAltRequest(ctx, req, strategy); err != nil {
					resp.Err = err
					return finish(resp, err)
				}
			}

			if err := sleepContext(ctx, strategy.DelayFor(retriesUsed)); err != nil {
				err := WrapError(KindCancelled, err)
				resp.Err = err
				return finish(resp, err)
			}
		}
	}
}

// runValidators evaluates the chain in order; the first outcome other
// than Next or Replace terminates the pass. Replacements propagate to
// subsequent validators.
func runValidators(chain []Validator, resp *Response, req *Request) Outcome {
	current := resp
	replaced := false
	for _, v := range chain {
		outcome := v(current, req)
		switch outcome.kind {
		case outcomeNext:
			continue
		case outcomeReplace:
			if outcome.replacement != nil {
				current = outcome.replacement
				replaced = true
			}
		default:
			return outcome
		}
	}
	if replaced {
		return Replace(current)
	}
	return Next()
}

// runAltRequest executes the alternate request of an After strategy as
// a nested fetch with its own retry budget, then lets the strategy's
// callback mutate the original request from the alternate response.
func (c *Client) runAltRequest(ctx context.Context, req *Request, strategy RetryStrategy) *Error {
	altResp, err := c.Fetch(ctx, strategy.AltRequest())
	if err != nil {
		if KindOf(err) == KindCancelled {
			return WrapError(KindCancelled, err)
		}
		return &Error{Kind: KindSessionError, Err: err, Message: "alternate request failed"}
	}
	if strategy.onResponse != nil {
		if err := strategy.onResponse(req, altResp); err != nil {
			return &Error{Kind: KindSessionError, Err: err, Message: "alternate response handler failed"}
		}
	}
	return nil
}

// buildResponse assembles the Response for one completed attempt.
func (c *Client) buildResponse(
	req *Request,
	wire *http.Request,
	wb *wireBody,
	originalWire *http.Request,
	loaderRes *loaderResult,
	transportErr error,
	retriesUsed int,
) *Response {
	resp := &Response{
		StatusCode:      loaderRes.status,
		OriginalRequest: originalWire,
		CurrentRequest:  loaderRes.wireRequest,
		RetryCount:      retriesUsed,
		data:            loaderRes.data,
		dataFilePath:    loaderRes.filePath,
		received:        loaderRes.received,
		resumeData:      loaderRes.resumeData,
		request:         req,
	}
	if loaderRes.headers != nil {
		resp.Headers = HeaderSetFrom(loaderRes.headers)
	}
	if transportErr != nil {
		resp.Err = classifyTransportError(unwrapURLError(transportErr))
	}
	if c.cfg.GenerateCurl {
		resp.curl = renderCurl(wire.Method, wire.URL.String(), wb.headers, wb)
	}
	return resp
}

// unwrapURLError strips the *url.Error envelope http.Client wraps
// transport failures in.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err
	}
	return err
}

// sleepContext waits d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
