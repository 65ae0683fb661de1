package httpfetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// loaderChunkSize is the read granularity for download streaming and
// the cadence at which progress updates are emitted.
const loaderChunkSize = 32 * 1024

// loader performs one underlying network transfer per call: it drives
// the wire request through the transport chain, streams the response to
// memory or to a spill file, emits progress events, and collects
// per-transaction metrics.
type loader struct {
	transport http.RoundTripper
	jar       http.CookieJar
	logger    zerolog.Logger
	debug     bool
}

// loaderCall carries everything one transfer needs.
type loaderCall struct {
	wire           *http.Request
	mode           TransferMode
	resumeData     []byte
	sink           ProgressSink
	redirectPolicy RedirectPolicy
	onRedirect     func(next *http.Request, via []*http.Request)

	// produceResume packages a cancelled large-data transfer into
	// resumable bytes.
	produceResume bool
}

// loaderResult is the outcome of one transfer.
type loaderResult struct {
	status      int
	headers     http.Header
	data        []byte
	filePath    string
	received    int64
	expected    int64
	metrics     *Metrics
	wireRequest *http.Request

	// resumeData is populated when a cancelled large-data transfer was
	// asked to produce resumable bytes.
	resumeData []byte
}

// resumeToken is the opaque payload behind resumable bytes.
type resumeToken struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Received int64  `json:"received"`
	ETag     string `json:"etag,omitempty"`
}

func decodeResumeToken(data []byte) (*resumeToken, error) {
	var tok resumeToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, WrapError(KindInvalidResponse, err)
	}
	return &tok, nil
}

func (tok *resumeToken) encode() []byte {
	data, _ := json.Marshal(tok)
	return data
}

// fetch performs the transfer. The returned loaderResult is non-nil even
// on error when partial data or metrics were collected.
func (l *loader) fetch(call loaderCall) (*loaderResult, error) {
	tracer := newTransactionTracer()
	metrics := &Metrics{}

	ctx := httptrace.WithClientTrace(call.wire.Context(), tracer.clientTrace())
	wire := call.wire.WithContext(ctx)

	res := &loaderResult{metrics: metrics, wireRequest: wire, expected: -1}

	// Resume bookkeeping: re-request the remainder and append to the
	// partial spill file.
	var (
		resume     *resumeToken
		resumeFile *os.File
	)
	if call.resumeData != nil && call.mode == TransferModeLargeData {
		tok, err := decodeResumeToken(call.resumeData)
		if err != nil {
			return res, err
		}
		f, err := os.OpenFile(tok.Path, os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			resume = tok
			resumeFile = f
			wire.Header.Set("Range", "bytes="+strconv.FormatInt(tok.Received, 10)+"-")
			if tok.ETag != "" {
				wire.Header.Set("If-Range", tok.ETag)
			}
		}
	}

	// Upload progress rides on a counting reader around the body.
	if wire.Body != nil && call.sink != nil {
		wire.Body = &progressReader{
			rc:       wire.Body,
			expected: wire.ContentLength,
			sink:     call.sink,
		}
	}

	httpClient := &http.Client{
		Transport:     l.transport,
		Jar:           l.jar,
		CheckRedirect: l.redirectFunc(call, tracer, metrics),
	}

	if l.debug {
		l.logger.Debug().
			Str("method", wire.Method).
			Str("url", wire.URL.String()).
			Msg("attempt start")
	}
	start := time.Now()

	resp, err := httpClient.Do(wire)
	if err != nil {
		metrics.Transactions = tracer.finish()
		if resume != nil {
			resumeFile.Close()
		}
		return res, l.finishFailed(call, res, err)
	}
	defer resp.Body.Close()

	res.status = resp.StatusCode
	res.headers = resp.Header
	res.expected = resp.ContentLength
	if resp.Request != nil {
		res.wireRequest = resp.Request
	}

	err = l.readBody(call, res, resp, resume, resumeFile)
	metrics.Transactions = tracer.finish()

	if l.debug {
		l.logger.Debug().
			Int("status", resp.StatusCode).
			Int64("received", res.received).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("attempt done")
	}
	if err != nil {
		return res, l.finishFailed(call, res, err)
	}
	return res, nil
}

// redirectFunc realizes the request's redirect policy and rotates the
// metrics transaction on each hop.
func (l *loader) redirectFunc(call loaderCall, tracer *transactionTracer, metrics *Metrics) func(*http.Request, []*http.Request) error {
	original := call.wire
	return func(next *http.Request, via []*http.Request) error {
		if call.redirectPolicy == RedirectRefuse {
			return http.ErrUseLastResponse
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		tracer.rotate()
		metrics.RedirectCount++
		if call.redirectPolicy == RedirectFollowWithOriginalSettings {
			for name, values := range original.Header {
				if next.Header.Get(name) == "" {
					next.Header[name] = values
				}
			}
		}
		if call.onRedirect != nil {
			call.onRedirect(next, via)
		}
		return nil
	}
}

// readBody streams the response body according to the transfer mode.
func (l *loader) readBody(call loaderCall, res *loaderResult, resp *http.Response, resume *resumeToken, resumeFile *os.File) error {
	switch call.mode {
	case TransferModeLargeData:
		return l.readToFile(call, res, resp, resume, resumeFile)
	default:
		if resumeFile != nil {
			resumeFile.Close()
		}
		return l.readToMemory(call, res, resp)
	}
}

func (l *loader) readToMemory(call loaderCall, res *loaderResult, resp *http.Response) error {
	var buf []byte
	chunk := make([]byte, loaderChunkSize)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			res.received = int64(len(buf))
			l.emitDownload(call, res)
		}
		if err == io.EOF {
			res.data = buf
			return nil
		}
		if err != nil {
			res.data = buf
			return err
		}
	}
}

func (l *loader) readToFile(call loaderCall, res *loaderResult, resp *http.Response, resume *resumeToken, resumeFile *os.File) error {
	var (
		f   *os.File
		err error
	)
	resumed := false
	switch {
	case resume != nil && resp.StatusCode == http.StatusPartialContent:
		f = resumeFile
		res.received = resume.Received
		if resp.ContentLength >= 0 {
			res.expected = resume.Received + resp.ContentLength
		}
		resumed = true
	default:
		if resumeFile != nil {
			resumeFile.Close()
		}
		f, err = os.CreateTemp("", "httpfetch-*.download")
		if err != nil {
			return WrapError(KindInternal, err)
		}
	}
	res.filePath = f.Name()

	if resumed && call.sink != nil {
		call.sink(HTTPProgress{
			Event:          ProgressResumed,
			CurrentLength:  res.received,
			ExpectedLength: res.expected,
		})
	}

	chunk := make([]byte, loaderChunkSize)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			if _, werr := f.Write(chunk[:n]); werr != nil {
				f.Close()
				return WrapError(KindInternal, werr)
			}
			res.received += int64(n)
			l.emitDownload(call, res)
		}
		if readErr == io.EOF {
			return f.Close()
		}
		if readErr != nil {
			f.Close()
			return readErr
		}
	}
}

func (l *loader) emitDownload(call loaderCall, res *loaderResult) {
	if call.sink == nil {
		return
	}
	call.sink(HTTPProgress{
		Event:          ProgressDownload,
		CurrentLength:  res.received,
		ExpectedLength: res.expected,
	})
}

// finishFailed emits the trailing failed event and, for cancelled
// large-data transfers asked to produce resumable bytes, packages the
// partial file into a resume token.
func (l *loader) finishFailed(call loaderCall, res *loaderResult, err error) error {
	cancelled := errors.Is(err, context.Canceled)
	if cancelled && call.produceResume &&
		call.mode == TransferModeLargeData && res.filePath != "" {
		tok := &resumeToken{
			URL:      call.wire.URL.String(),
			Path:     res.filePath,
			Received: res.received,
		}
		if res.headers != nil {
			tok.ETag = res.headers.Get("Etag")
		}
		res.resumeData = tok.encode()
	}
	if call.sink != nil {
		call.sink(HTTPProgress{
			Event:          ProgressFailed,
			CurrentLength:  res.received,
			ExpectedLength: res.expected,
			PartialData:    res.data,
		})
	}
	return err
}

// progressReader counts request body bytes and reports upload progress.
type progressReader struct {
	rc       io.ReadCloser
	sent     int64
	expected int64
	sink     ProgressSink
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.rc.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.sink(HTTPProgress{
			Event:          ProgressUpload,
			CurrentLength:  p.sent,
			ExpectedLength: p.expected,
		})
	}
	return n, err
}

func (p *progressReader) Close() error {
	return p.rc.Close()
}
