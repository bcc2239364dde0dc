package payclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ============================================================================
// Failure union
// ============================================================================

// Failure is the closed set of errors a Transport or the token exchange can
// produce: *TransportError, *HTTPStatusError or *MalformedResponseError.
type Failure interface {
	error
	failure()
}

// TransportError means no response was received (network failure, timeout,
// cancelled context).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
func (*TransportError) failure()        {}

// ErrorDetail is one entry of the provider's "details" list.
type ErrorDetail struct {
	Field       string `json:"field,omitempty"`
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

// HTTPStatusError means the provider answered with a non-2xx status.
// Name, Message and Details are extracted from the body when it is JSON.
type HTTPStatusError struct {
	StatusCode int
	Name       string
	Message    string
	Details    []ErrorDetail
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	if e.Name != "" || e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, firstNonEmpty(e.Name, e.Message))
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

func (*HTTPStatusError) failure() {}

// MalformedResponseError means a 2xx response could not be used, for example
// a token response without an access_token.
type MalformedResponseError struct {
	Reason string
	Body   []byte
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
	}
	return "malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
func (*MalformedResponseError) failure()        {}

// ============================================================================
// Dispatcher errors
// ============================================================================

// ErrUnauthenticated matches any *UnauthenticatedError via errors.Is.
var ErrUnauthenticated = errors.New("payclient: unauthenticated")

// UnauthenticatedError is returned by Dispatcher.Send when no token could be
// obtained for the family. Err holds the last authentication failure, if known.
type UnauthenticatedError struct {
	Family EndpointFamily
	Err    error
}

func (e *UnauthenticatedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payclient: unauthenticated for %s api: %s", e.Family, Normalize(e.Err))
	}
	return fmt.Sprintf("payclient: unauthenticated for %s api", e.Family)
}

func (e *UnauthenticatedError) Unwrap() error { return e.Err }

func (e *UnauthenticatedError) Is(target error) bool {
	return target == ErrUnauthenticated
}

// RequestError wraps a failed outbound call. Message is the normalized
// diagnostic string (see Normalize).
type RequestError struct {
	Method  string
	URL     string
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// StatusCode returns the provider status for HTTP failures, or 0.
func (e *RequestError) StatusCode() int {
	var se *HTTPStatusError
	if errors.As(e.Err, &se) {
		return se.StatusCode
	}
	return 0
}

// ============================================================================
// Normalization
// ============================================================================

// Normalize renders err as a single human-readable string: the HTTP status,
// then the provider's name (or message), then every "issue description" pair,
// joined by ", ". Errors carrying none of those, and *UnauthenticatedError,
// fall back to err.Error().
func Normalize(err error) string {
	if err == nil {
		return ""
	}

	// Keep the "unauthenticated" framing instead of reducing it to the cause.
	var ue *UnauthenticatedError
	if errors.As(err, &ue) {
		return err.Error()
	}

	var se *HTTPStatusError
	if !errors.As(err, &se) {
		return err.Error()
	}

	parts := []string{fmt.Sprintf("Status %d", se.StatusCode)}
	if label := firstNonEmpty(se.Name, se.Message); label != "" {
		parts = append(parts, label)
	}
	for _, d := range se.Details {
		if pair := strings.TrimSpace(d.Issue + " " + d.Description); pair != "" {
			parts = append(parts, pair)
		}
	}
	return strings.Join(parts, ", ")
}

// parseStatusError builds an HTTPStatusError from a provider response body.
// Both the REST shape ({name, message, details}) and the OAuth2 shape
// ({error, error_description}) are recognised.
func parseStatusError(status int, body []byte) *HTTPStatusError {
	e := &HTTPStatusError{StatusCode: status, Body: body}
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return e
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return e
	}

	e.Name = firstNonEmpty(doc.Get("name").String(), doc.Get("error").String())
	e.Message = firstNonEmpty(doc.Get("message").String(), doc.Get("error_description").String())

	doc.Get("details").ForEach(func(_, d gjson.Result) bool {
		e.Details = append(e.Details, ErrorDetail{
			Field:       d.Get("field").String(),
			Issue:       d.Get("issue").String(),
			Description: d.Get("description").String(),
		})
		return true
	})

	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
