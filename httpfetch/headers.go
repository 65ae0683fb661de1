package httpfetch

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HeaderSet is an ordered collection of header fields with case-insensitive
// uniqueness on the field name. Setting a name that is already present
// replaces the value in place, keeping the original position; new names are
// appended.
//
// The zero value is an empty, ready-to-use set.
type HeaderSet struct {
	entries []headerField
}

type headerField struct {
	name  string
	value string
}

// NewHeaderSet creates a HeaderSet from alternating name/value pairs.
//
//	h := httpfetch.NewHeaderSet("Accept", "application/json", "X-Env", "prod")
func NewHeaderSet(pairs ...string) HeaderSet {
	if len(pairs)%2 != 0 {
		panic("httpfetch: NewHeaderSet requires an even number of arguments")
	}
	var h HeaderSet
	for i := 0; i < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

// Set stores value under name. If a field with the same name (compared
// case-insensitively) exists, its value is replaced and its position kept;
// otherwise the field is appended.
func (h *HeaderSet) Set(name, value string) {
	lower := strings.ToLower(name)
	for i := range h.entries {
		if strings.ToLower(h.entries[i].name) == lower {
			h.entries[i].value = value
			return
		}
	}
	h.entries = append(h.entries, headerField{name: name, value: value})
}

// Remove deletes the field with the given name, if present.
func (h *HeaderSet) Remove(name string) {
	lower := strings.ToLower(name)
	for i := range h.entries {
		if strings.ToLower(h.entries[i].name) == lower {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// Value returns the value stored under name and whether it was present.
// The lookup is case-insensitive.
func (h *HeaderSet) Value(name string) (string, bool) {
	lower := strings.ToLower(name)
	for i := range h.entries {
		if strings.ToLower(h.entries[i].name) == lower {
			return h.entries[i].value, true
		}
	}
	return "", false
}

// Get returns the value stored under name, or "" when absent.
func (h *HeaderSet) Get(name string) string {
	v, _ := h.Value(name)
	return v
}

// Merge copies every field of other into h. Fields from other win on
// name collisions; collided fields keep their position in h.
func (h *HeaderSet) Merge(other HeaderSet) {
	for _, f := range other.entries {
		h.Set(f.name, f.value)
	}
}

// Len returns the number of fields in the set.
func (h *HeaderSet) Len() int {
	return len(h.entries)
}

// Each calls fn for every field in insertion order.
func (h *HeaderSet) Each(fn func(name, value string)) {
	for _, f := range h.entries {
		fn(f.name, f.value)
	}
}

// AsMap collapses the set into a plain map. Since names are unique
// case-insensitively, the last write wins; iteration order of the result
// is unspecified.
func (h *HeaderSet) AsMap() map[string]string {
	m := make(map[string]string, len(h.entries))
	for _, f := range h.entries {
		m[f.name] = f.value
	}
	return m
}

// Clone returns an independent copy of the set.
func (h *HeaderSet) Clone() HeaderSet {
	return HeaderSet{entries: append([]headerField(nil), h.entries...)}
}

// Equal reports whether h and other contain the same fields, comparing
// names case-insensitively and ignoring order.
func (h *HeaderSet) Equal(other HeaderSet) bool {
	if len(h.entries) != len(other.entries) {
		return false
	}
	lowered := make(map[string]string, len(h.entries))
	for _, f := range h.entries {
		lowered[strings.ToLower(f.name)] = f.value
	}
	for _, f := range other.entries {
		v, ok := lowered[strings.ToLower(f.name)]
		if !ok || v != f.value {
			return false
		}
	}
	return true
}

// Apply writes every field onto dst, replacing existing values.
func (h *HeaderSet) Apply(dst http.Header) {
	for _, f := range h.entries {
		dst.Set(f.name, f.value)
	}
}

// HeaderSetFrom builds a HeaderSet from an http.Header. Multi-valued
// fields collapse to their first value; ordering follows http.Header's
// (unspecified) map iteration, so use this only where order is irrelevant.
func HeaderSetFrom(src http.Header) HeaderSet {
	var h HeaderSet
	for name, values := range src {
		if len(values) > 0 {
			h.Set(name, values[0])
		}
	}
	return h
}

// DefaultHeaders returns the fields applied to every request unless
// overridden: Accept-Encoding, Accept-Language, and a User-Agent derived
// from the host process.
func DefaultHeaders() HeaderSet {
	var h HeaderSet
	h.Set("Accept-Encoding", "gzip;q=1.0, compress;q=0.5")
	h.Set("Accept-Language", "en;q=1.0")
	h.Set("User-Agent", defaultUserAgent())
	return h
}

func defaultUserAgent() string {
	app := "unknown"
	if len(os.Args) > 0 && os.Args[0] != "" {
		app = filepath.Base(os.Args[0])
	}
	return fmt.Sprintf("%s/1.0 (%s; %s) %s", app, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
