package payclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/payclient/pkg/idx"
	"github.com/aussiebroadwan/payclient/pkg/slogx"
)

const dispatchComponent = "payclient.dispatcher"

// Dispatcher executes Requests against an EndpointFamily with transparent
// authentication. It never retries a failed request on its own.
type Dispatcher struct {
	tokens    *TokenManager
	transport Transport
	logger    *slog.Logger
	tracer    trace.Tracer

	limiter         *rate.Limiter
	requestIDHeader string
}

// NewDispatcher wires a dispatcher to a shared TokenManager.
func NewDispatcher(tokens *TokenManager, opts ...Option) *Dispatcher {
	o := applyOptions(opts)

	transport := o.transport
	if transport == nil {
		transport = NewHTTPTransport(&http.Client{
			Timeout:   DefaultRequestTimeout,
			Transport: slogx.NewTransport(nil, o.logger),
		})
	}

	return &Dispatcher{
		tokens:          tokens,
		transport:       transport,
		logger:          o.logger.With("component", dispatchComponent),
		tracer:          o.tracerProvider.Tracer(tracerName),
		limiter:         o.limiter,
		requestIDHeader: o.requestIDHeader,
	}
}

// Send authenticates if needed, injects the bearer token and dispatches req.
//
// If no token can be obtained the call fails with *UnauthenticatedError and
// the transport is never invoked. Transport failures are returned as
// *RequestError carrying the normalized message.
func (d *Dispatcher) Send(ctx context.Context, req Request, family EndpointFamily) (*Response, error) {
	ctx, span := d.tracer.Start(ctx, "payclient.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payclient.family", family.String()),
			attribute.String("http.request.method", req.Method),
		),
	)
	defer span.End()

	cred, err := d.credential(ctx, family)
	if err != nil {
		msg := Normalize(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		d.logger.Error("request not sent", "context", family.String(), "error", msg)
		return nil, err
	}

	out := d.prepare(req, family, cred)
	logger := d.logger
	if d.requestIDHeader != "" {
		reqID := out.Header.Get(d.requestIDHeader)
		logger = logger.With("req_id", reqID)
		ctx = slogx.WithRequestID(ctx, reqID)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, d.fail(span, logger, out, family, &TransportError{Err: err})
		}
	}

	start := time.Now()
	resp, err := d.transport.Do(ctx, out)
	requestDuration.WithLabelValues(family.String(), out.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, d.fail(span, logger, out, family, err)
	}
	if resp == nil {
		return nil, d.fail(span, logger, out, family, &MalformedResponseError{Reason: "transport returned no response"})
	}

	requestsTotal.WithLabelValues(family.String(), out.Method, statusClass(resp.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

// credential returns a usable token for family, authenticating at most once.
func (d *Dispatcher) credential(ctx context.Context, family EndpointFamily) (Credential, error) {
	cred, ok := d.tokens.GetValid(family)
	// Expiry may be crossed between GetValid's clock read and this one.
	if ok && cred.ValidAt(d.tokens.now()) {
		return cred, nil
	}
	return d.reauthenticate(ctx, family)
}

func (d *Dispatcher) reauthenticate(ctx context.Context, family EndpointFamily) (Credential, error) {
	if !d.tokens.Authenticate(ctx, family) {
		cause := d.tokens.LastError(family)
		if err := ctx.Err(); err != nil {
			cause = &TransportError{Err: err}
		}
		return Credential{}, &UnauthenticatedError{Family: family, Err: cause}
	}

	// A freshly issued token is used even if its declared lifetime is shorter
	// than the safety margin; another exchange would return the same.
	cred, ok := d.tokens.Credential(family)
	if !ok {
		return Credential{}, &UnauthenticatedError{Family: family}
	}
	return cred, nil
}

// prepare derives the outbound request without touching the caller's copy.
func (d *Dispatcher) prepare(req Request, family EndpointFamily, cred Credential) *Request {
	out := req.clone()
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	out.URL = resolveURL(d.tokens.cfg.BaseURLFor(family), out.URL)
	out.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	if out.FullRepresentation {
		out.FullRepresentation = false
		out.Header.Set(HeaderPrefer, PreferRepresentation)
	}

	if d.requestIDHeader != "" && out.Header.Get(d.requestIDHeader) == "" {
		out.Header.Set(d.requestIDHeader, idx.NewAt(d.tokens.now()).String())
	}
	return &out
}

// fail normalizes err, logs it with the method and URL and wraps it.
func (d *Dispatcher) fail(span trace.Span, logger *slog.Logger, out *Request, family EndpointFamily, err error) error {
	msg := Normalize(err)

	status := 0
	var se *HTTPStatusError
	if errors.As(err, &se) {
		status = se.StatusCode
	}
	requestsTotal.WithLabelValues(family.String(), out.Method, statusClass(status)).Inc()

	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	logger.Error("request failed",
		"context", family.String(),
		"method", out.Method,
		"url", out.URL,
		"error", msg,
	)

	return &RequestError{Method: out.Method, URL: out.URL, Message: msg, Err: err}
}

// Get sends a GET for path.
func (d *Dispatcher) Get(ctx context.Context, family EndpointFamily, path string) (*Response, error) {
	return d.Send(ctx, Request{Method: http.MethodGet, URL: path}, family)
}

// Post sends body as JSON and asks for the full representation back.
func (d *Dispatcher) Post(ctx context.Context, family EndpointFamily, path string, body any) (*Response, error) {
	return d.sendJSON(ctx, family, http.MethodPost, path, body)
}

// Patch sends body as JSON and asks for the full representation back.
func (d *Dispatcher) Patch(ctx context.Context, family EndpointFamily, path string, body any) (*Response, error) {
	return d.sendJSON(ctx, family, http.MethodPatch, path, body)
}

// Delete sends a DELETE for path.
func (d *Dispatcher) Delete(ctx context.Context, family EndpointFamily, path string) (*Response, error) {
	return d.Send(ctx, Request{Method: http.MethodDelete, URL: path}, family)
}

func (d *Dispatcher) sendJSON(ctx context.Context, family EndpointFamily, method, path string, body any) (*Response, error) {
	req, err := NewJSONRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	req.FullRepresentation = true
	return d.Send(ctx, req, family)
}
