package httpfetch

import (
	"encoding/xml"
	"net/http"
	"os"
	"strings"

	json "github.com/goccy/go-json"
)

// Response is the outcome of a request execution: the final status,
// headers, body (in memory or spilled to a file), the transport error if
// any, the metrics record, and the wire requests that produced it.
type Response struct {
	// StatusCode is the final HTTP status, or StatusNone when the
	// attempt produced no response.
	StatusCode int

	// Headers are the response header fields.
	Headers HeaderSet

	// Err is the error attached to the response, if any. It is always
	// an *Error from the taxonomy.
	Err error

	// Metrics is the per-request metrics record.
	Metrics *Metrics

	// OriginalRequest is the wire request of the first attempt.
	OriginalRequest *http.Request

	// CurrentRequest is the wire request that produced this response;
	// it differs from OriginalRequest when a redirect was chased.
	CurrentRequest *http.Request

	// RetryCount is the number of retries observed before this
	// response was delivered.
	RetryCount int

	data         []byte
	dataFilePath string
	received     int64
	resumeData   []byte
	request      *Request
	curl         string
}

// BodyLength returns the number of body bytes received, without
// materializing a spilled body in memory.
func (r *Response) BodyLength() int64 {
	return r.received
}

// CurlCommand returns the curl rendering of the wire request. Populated
// when the client was created with WithGenerateCurl(true).
func (r *Response) CurlCommand() string {
	return r.curl
}

// Request returns the originating request.
func (r *Response) Request() *Request {
	return r.request
}

// RequestID returns the identifier of the originating request.
func (r *Response) RequestID() string {
	if r.request == nil {
		return ""
	}
	return r.request.ID()
}

// Data returns the response body bytes. In large-data mode the bytes are
// read from the spill file on first access; until then they are never
// held in memory.
func (r *Response) Data() []byte {
	if r.data == nil && r.dataFilePath != "" {
		data, err := os.ReadFile(r.dataFilePath)
		if err == nil {
			r.data = data
		}
	}
	return r.data
}

// DataFileURL returns the spill file path of a large-data transfer, or
// "" in buffered mode. The file belongs to the caller: delete it when
// done, it is not cleaned up implicitly.
func (r *Response) DataFileURL() string {
	return r.dataFilePath
}

// ResumeData returns the opaque resumable bytes of a cancelled
// large-data transfer. Assign them to a follow-up request's ResumeData
// to continue the transfer.
func (r *Response) ResumeData() []byte {
	return r.resumeData
}

// IsSuccess reports whether the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return ClassOf(r.StatusCode) == StatusClassSuccess
}

// String returns the body as a string, materializing it if needed.
func (r *Response) String() string {
	return string(r.Data())
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Data(), v); err != nil {
		return WrapError(KindObjectDecodeFailed, err)
	}
	return nil
}

// Decode unmarshals the body into v, picking the codec from the
// response Content-Type. JSON is the default.
func (r *Response) Decode(v any) error {
	contentType := r.Headers.Get("Content-Type")
	if strings.Contains(contentType, "xml") {
		if err := xml.Unmarshal(r.Data(), v); err != nil {
			return WrapError(KindObjectDecodeFailed, err)
		}
		return nil
	}
	return r.DecodeJSON(v)
}
