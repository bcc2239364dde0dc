package payclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// HeaderPrefer is the header used to ask the provider for a full object.
	HeaderPrefer = "Prefer"

	// PreferRepresentation asks for the complete updated object instead of a
	// minimal acknowledgement.
	PreferRepresentation = "return=representation"
)

// Request describes one outbound API call. URL may be absolute or relative to
// the family's base URL. The dispatcher never mutates a caller's Request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// Timeout bounds this call only; zero defers to the transport default.
	Timeout time.Duration

	// FullRepresentation is translated into the provider's Prefer header
	// and cleared on the outbound copy.
	FullRepresentation bool
}

// NewJSONRequest marshals body (when non-nil) and sets the JSON content type.
func NewJSONRequest(method, path string, body any) (Request, error) {
	req := Request{Method: method, URL: path, Header: http.Header{}}
	if body == nil {
		return req, nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("payclient: encode request body: %w", err)
	}
	req.Body = payload
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// clone returns a deep copy whose header map and body can be modified freely.
func (r Request) clone() Request {
	out := r
	if r.Header != nil {
		out.Header = r.Header.Clone()
	} else {
		out.Header = http.Header{}
	}
	if r.Body != nil {
		out.Body = bytes.Clone(r.Body)
	}
	return out
}

// resolveURL prefixes a relative URL with base. Absolute URLs pass through.
func resolveURL(base, raw string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	return base + strings.TrimPrefix(raw, "/")
}

// Response is a successful (2xx) transport result.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v. Empty bodies are a no-op.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("payclient: decode response: %w", err)
	}
	return nil
}

// Get reads a single value from the JSON body using a gjson path.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}
