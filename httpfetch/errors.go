package httpfetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// ErrorKind is the closed set of failure categories produced by the
// pipeline. Every error surfaced by Fetch is an *Error carrying one of
// these kinds.
type ErrorKind int

const (
	// KindOther is the catch-all for failures outside the closed set.
	KindOther ErrorKind = iota

	// Request construction.
	KindInvalidURL
	KindFailedBuildingURLRequest
	KindURLEncodingFailed
	KindJSONEncodingFailed
	KindMultipartInvalidFile
	KindMultipartFailedStringEncoding
	KindMultipartStreamReadFailed

	// Transport and response shape.
	KindNetwork
	KindMissingConnection
	KindTimeout
	KindInvalidResponse
	KindEmptyResponse

	// Decoding.
	KindObjectDecodeFailed

	// Pipeline control.
	KindRetryAttemptsReached
	KindCancelled
	KindValidatorFailure
	KindSessionError

	// KindInternal marks bugs in the pipeline itself.
	KindInternal
)

var errorKindNames = map[ErrorKind]string{
	KindOther:                         "other",
	KindInvalidURL:                    "invalid URL",
	KindFailedBuildingURLRequest:      "failed building URL request",
	KindURLEncodingFailed:             "URL encoding failed",
	KindJSONEncodingFailed:            "JSON encoding failed",
	KindMultipartInvalidFile:          "multipart invalid file",
	KindMultipartFailedStringEncoding: "multipart string encoding failed",
	KindMultipartStreamReadFailed:     "multipart stream read failed",
	KindNetwork:                       "network",
	KindMissingConnection:             "missing connection",
	KindTimeout:                       "timeout",
	KindInvalidResponse:               "invalid response",
	KindEmptyResponse:                 "empty response",
	KindObjectDecodeFailed:            "object decode failed",
	KindRetryAttemptsReached:          "retry attempts reached",
	KindCancelled:                     "cancelled",
	KindValidatorFailure:              "validator failure",
	KindSessionError:                  "session error",
	KindInternal:                      "internal",
}

// String returns the human-readable category name.
func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return "other"
}

// Error is the pipeline's error type: a category, an optional HTTP status
// code, an optional wrapped transport error, and an optional message.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
	Message    string
}

// NewError creates an *Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an *Error of the given kind wrapping cause.
func WrapError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("httpfetch: ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != StatusNone {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches against another *Error by kind, so
// errors.Is(err, &Error{Kind: KindTimeout}) works regardless of the
// wrapped cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the ErrorKind from err. Errors outside the taxonomy
// report KindOther.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// StatusNone is the synthetic "no status" code representing an attempt
// that produced no HTTP response (transport failure). Adding it to the
// client's retriable status codes makes transport failures retriable.
const StatusNone = 0

// StatusClass partitions the HTTP status code domain.
type StatusClass int

const (
	// StatusClassNone is the class of StatusNone.
	StatusClassNone StatusClass = iota
	// StatusClassInformational covers 1xx.
	StatusClassInformational
	// StatusClassSuccess covers 2xx.
	StatusClassSuccess
	// StatusClassRedirection covers 3xx.
	StatusClassRedirection
	// StatusClassClientError covers 4xx.
	StatusClassClientError
	// StatusClassServerError covers 5xx.
	StatusClassServerError
)

// ClassOf returns the StatusClass of code. Codes outside 100-599 report
// StatusClassNone.
func ClassOf(code int) StatusClass {
	switch {
	case code >= 100 && code < 200:
		return StatusClassInformational
	case code >= 200 && code < 300:
		return StatusClassSuccess
	case code >= 300 && code < 400:
		return StatusClassRedirection
	case code >= 400 && code < 500:
		return StatusClassClientError
	case code >= 500 && code < 600:
		return StatusClassServerError
	default:
		return StatusClassNone
	}
}

// IsErrorStatus reports whether code is a client or server error.
func IsErrorStatus(code int) bool {
	c := ClassOf(code)
	return c == StatusClassClientError || c == StatusClassServerError
}

// isNoContentStatus reports whether code promises an empty body.
func isNoContentStatus(code int) bool {
	switch code {
	case http.StatusNoContent, http.StatusResetContent, http.StatusNotModified:
		return true
	default:
		return false
	}
}

// classifyTransportError maps a transport-level error onto the taxonomy.
func classifyTransportError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return WrapError(KindCancelled, err)
	case errors.Is(err, context.DeadlineExceeded), isTimeoutError(err):
		return WrapError(KindTimeout, err)
	case isMissingConnectionError(err):
		return WrapError(KindMissingConnection, err)
	default:
		return WrapError(KindNetwork, err)
	}
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// isMissingConnectionError matches failures that indicate the host is
// unreachable rather than misbehaving.
func isMissingConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETDOWN) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "network is down", "network unreachable", "no such host"} {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// isRetryableNetworkError reports whether a transport error is typically
// transient.
func isRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if isPermanentTransportError(err) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "connection reset", "i/o timeout", "broken pipe", "server closed", "eof"} {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// isPermanentTransportError matches failures that will not succeed on
// retry.
func isPermanentTransportError(err error) bool {
	if err == nil {
		return false
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, p := range []string{"x509:", "certificate", "tls:", "permission denied"} {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}
