package httpfetch

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Body describes a request payload. Encoding a body yields a reader, a
// content type, and the content length when it is known up front (-1
// otherwise).
//
// Implementations: EmptyBody, RawBody, FileBody, FormBody, JSONBody,
// MultipartBody.
type Body interface {
	Encode() (io.Reader, string, int64, error)
}

// EmptyBody is a request without a payload.
type EmptyBody struct{}

// Encode returns no reader and no content type.
func (EmptyBody) Encode() (io.Reader, string, int64, error) {
	return nil, "", 0, nil
}

// RawBody carries pre-encoded bytes with an explicit content type.
type RawBody struct {
	Data        []byte
	ContentType string
}

// Encode returns the bytes as-is.
func (b RawBody) Encode() (io.Reader, string, int64, error) {
	return bytes.NewReader(b.Data), b.ContentType, int64(len(b.Data)), nil
}

// FileBody streams a file from disk with an explicit content type.
type FileBody struct {
	Path        string
	ContentType string
}

// Encode opens the file and returns it as the payload stream.
func (b FileBody) Encode() (io.Reader, string, int64, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, "", 0, &Error{Kind: KindMultipartInvalidFile, Err: err, Message: b.Path}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, "", 0, &Error{Kind: KindMultipartInvalidFile, Err: err, Message: b.Path}
	}
	return f, b.ContentType, info.Size(), nil
}

// QueryItem is one name/value pair of a query string or form body.
// Sequences of QueryItem preserve insertion order.
type QueryItem struct {
	Name  string
	Value string
}

// FormBody encodes ordered pairs as application/x-www-form-urlencoded.
type FormBody struct {
	Items []QueryItem
}

// Encode percent-encodes each pair and joins them with '&'.
func (b FormBody) Encode() (io.Reader, string, int64, error) {
	for _, item := range b.Items {
		if !utf8.ValidString(item.Name) || !utf8.ValidString(item.Value) {
			return nil, "", 0, NewError(KindURLEncodingFailed, "form pair %q is not valid UTF-8", item.Name)
		}
	}
	encoded := encodeFormItems(b.Items)
	return strings.NewReader(encoded), "application/x-www-form-urlencoded", int64(len(encoded)), nil
}

// encodeFormItems renders pairs in order, percent-encoding everything
// outside the unreserved alphanumeric set.
func encodeFormItems(items []QueryItem) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(percentEncode(item.Name))
		b.WriteByte('=')
		b.WriteString(percentEncode(item.Value))
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes every byte outside [0-9A-Za-z].
func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}

// JSONBody encodes a value as application/json. Encoding happens at
// request build time, so a retry re-reads the current value.
type JSONBody struct {
	Value any
}

// Encode marshals the value.
func (b JSONBody) Encode() (io.Reader, string, int64, error) {
	data, err := json.Marshal(b.Value)
	if err != nil {
		return nil, "", 0, WrapError(KindJSONEncodingFailed, err)
	}
	return bytes.NewReader(data), "application/json", int64(len(data)), nil
}

// Part is one section of a multipart/form-data body.
//
// Exactly one of Value, FilePath, or Reader supplies the content.
type Part struct {
	// Name is the form-data field name.
	Name string

	// FileName, when non-empty, adds a filename attribute to the
	// part's Content-Disposition.
	FileName string

	// ContentType, when non-empty, adds a Content-Type line to the part.
	ContentType string

	// Value is inline string content.
	Value string

	// FilePath streams the part content from a file.
	FilePath string

	// Reader streams the part content from an arbitrary source.
	Reader io.Reader
}

// StringPart builds an inline string part.
func StringPart(name, value string) Part {
	return Part{Name: name, Value: value}
}

// FilePart builds a part streamed from a file; the filename attribute
// defaults to the path's base name.
func FilePart(name, path string) Part {
	return Part{Name: name, FilePath: path, FileName: filepath.Base(path)}
}

// ReaderPart builds a part streamed from r.
func ReaderPart(name, fileName string, r io.Reader) Part {
	return Part{Name: name, FileName: fileName, Reader: r}
}

// MultipartBody assembles ordered parts into multipart/form-data.
type MultipartBody struct {
	// Boundary overrides the generated boundary token when non-empty.
	Boundary string

	Parts []Part
}

// Encode assembles the parts. The boundary is a random hex token unless
// one was supplied.
func (b MultipartBody) Encode() (io.Reader, string, int64, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	boundary := b.Boundary
	if boundary == "" {
		boundary = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if err := w.SetBoundary(boundary); err != nil {
		return nil, "", 0, WrapError(KindInternal, err)
	}

	for _, part := range b.Parts {
		if err := writePart(w, part); err != nil {
			return nil, "", 0, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", 0, WrapError(KindInternal, err)
	}

	return bytes.NewReader(buf.Bytes()), w.FormDataContentType(), int64(buf.Len()), nil
}

func writePart(w *multipart.Writer, part Part) error {
	header := make(textproto.MIMEHeader)
	disposition := `form-data; name="` + escapeQuotes(part.Name) + `"`
	if part.FileName != "" {
		disposition += `; filename="` + escapeQuotes(part.FileName) + `"`
	}
	header.Set("Content-Disposition", disposition)
	if part.ContentType != "" {
		header.Set("Content-Type", part.ContentType)
	}

	dst, err := w.CreatePart(header)
	if err != nil {
		return WrapError(KindInternal, err)
	}

	switch {
	case part.FilePath != "":
		f, err := os.Open(part.FilePath)
		if err != nil {
			return &Error{Kind: KindMultipartInvalidFile, Err: err, Message: part.FilePath}
		}
		defer f.Close()
		if _, err := io.Copy(dst, f); err != nil {
			return WrapError(KindMultipartStreamReadFailed, err)
		}
	case part.Reader != nil:
		if _, err := io.Copy(dst, part.Reader); err != nil {
			return WrapError(KindMultipartStreamReadFailed, err)
		}
	default:
		if !utf8.ValidString(part.Value) {
			return NewError(KindMultipartFailedStringEncoding, "part %q is not valid UTF-8", part.Name)
		}
		if _, err := io.WriteString(dst, part.Value); err != nil {
			return WrapError(KindInternal, err)
		}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
