package payclient

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/payclient/pkg/slogx"
)

func newTestDispatcher(t *testing.T, tm *TokenManager, opts ...Option) *Dispatcher {
	t.Helper()
	base := []Option{WithLogger(slogx.Discard())}
	return NewDispatcher(tm, append(base, opts...)...)
}

// recordingTransport captures every request it is asked to send.
type recordingTransport struct {
	calls atomic.Int32
	last  atomic.Pointer[Request]
	resp  *Response
	err   error
}

func (rt *recordingTransport) Do(_ context.Context, req *Request) (*Response, error) {
	rt.calls.Add(1)
	rt.last.Store(req)
	if rt.err != nil {
		return nil, rt.err
	}
	if rt.resp != nil {
		return rt.resp, nil
	}
	return &Response{StatusCode: http.StatusOK}, nil
}

func TestSendInjectsBearerAndResolvesURL(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	d := newTestDispatcher(t, newTestManager(t, p.config()))
	ctx := context.Background()

	tests := []struct {
		name     string
		family   EndpointFamily
		url      string
		wantPath string
		wantAuth string
	}{
		{"relative standard", Standard, "v1/payments/payment", "/std/v1/payments/payment", "Bearer std-1"},
		{"leading slash", Standard, "/v1/payments/payment", "/std/v1/payments/payment", "Bearer std-1"},
		{"alternate family", Alternate, "v2/checkout/orders", "/alt/v2/checkout/orders", "Bearer alt-2"},
		{"absolute passes through", Standard, p.URL + "/elsewhere/v1/x", "/elsewhere/v1/x", "Bearer std-1"},
	}

	for _, tt := range tests {
		resp, err := d.Send(ctx, Request{Method: http.MethodGet, URL: tt.url}, tt.family)
		require.NoError(t, err, tt.name)
		require.Equal(t, http.StatusOK, resp.StatusCode, tt.name)
		require.Equal(t, "PAY-1", resp.Get("id").String(), tt.name)

		got, _ := p.last()
		require.Equal(t, tt.wantPath, got.URL.Path, tt.name)
		require.Equal(t, tt.wantAuth, got.Header.Get("Authorization"), tt.name)
		require.Empty(t, got.Header.Get(HeaderPrefer), tt.name)
	}

	require.Equal(t, int32(2), p.tokenCalls.Load(), "one exchange per family")
}

func TestSendDoesNotMutateCallerRequest(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	rt := &recordingTransport{}
	d := newTestDispatcher(t, newTestManager(t, p.config()), WithTransport(rt))

	req := Request{
		Method:             http.MethodPost,
		URL:                "v1/payments/payment",
		Header:             http.Header{"X-Custom": {"a"}},
		Body:               []byte(`{"intent":"sale"}`),
		FullRepresentation: true,
	}
	snapshot := req.clone()

	_, err := d.Send(context.Background(), req, Standard)
	require.NoError(t, err)

	require.Equal(t, snapshot, req)
	require.Empty(t, req.Header.Get("Authorization"))
	require.True(t, req.FullRepresentation)

	out := rt.last.Load()
	require.NotNil(t, out)
	require.False(t, out.FullRepresentation)
	require.Equal(t, PreferRepresentation, out.Header.Get(HeaderPrefer))
	require.Equal(t, "Bearer std-1", out.Header.Get("Authorization"))
	require.Equal(t, "a", out.Header.Get("X-Custom"))
	require.Equal(t, p.URL+"/std/v1/payments/payment", out.URL)

	// The outbound body must be a separate buffer.
	out.Body[0] = '['
	require.Equal(t, byte('{'), req.Body[0])
}

func TestSendWithNilHeader(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	rt := &recordingTransport{}
	d := newTestDispatcher(t, newTestManager(t, p.config()), WithTransport(rt))

	req := Request{URL: "v1/identity/userinfo"}
	_, err := d.Send(context.Background(), req, Alternate)
	require.NoError(t, err)
	require.Nil(t, req.Header)

	out := rt.last.Load()
	require.Equal(t, http.MethodGet, out.Method)
	require.Equal(t, "Bearer alt-1", out.Header.Get("Authorization"))
}

func TestSendFailsFastWhenUnauthenticated(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	p.setToken(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
	})
	rt := &recordingTransport{}
	d := newTestDispatcher(t, newTestManager(t, p.config()), WithTransport(rt))

	_, err := d.Send(context.Background(), Request{URL: "v1/payments/payment"}, Standard)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnauthenticated)

	var ue *UnauthenticatedError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, Standard, ue.Family)

	var se *HTTPStatusError
	require.ErrorAs(t, err, &se, "cause of the failed exchange is preserved")
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)

	require.Zero(t, rt.calls.Load(), "transport must not be called")
	require.Equal(t, int32(1), p.tokenCalls.Load(), "authenticate at most once per send")
}

func TestSendReusesValidToken(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	clock := newTestClock(1000)
	d := newTestDispatcher(t, newTestManager(t, p.config(), WithClock(clock.Now)))
	ctx := context.Background()

	for range 3 {
		_, err := d.Get(ctx, Standard, "v1/payments/payment")
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), p.tokenCalls.Load())

	// Crossing ExpiresAt forces exactly one new exchange.
	clock.Set(4420)
	_, err := d.Get(ctx, Standard, "v1/payments/payment")
	require.NoError(t, err)
	require.Equal(t, int32(2), p.tokenCalls.Load())

	got, _ := p.last()
	require.Equal(t, "Bearer std-2", got.Header.Get("Authorization"))
}

func TestSendUsesFreshTokenShorterThanMargin(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	p.setToken(p.issueToken(60))
	rt := &recordingTransport{}
	d := newTestDispatcher(t, newTestManager(t, p.config()), WithTransport(rt))

	_, err := d.Send(context.Background(), Request{URL: "v1/x"}, Standard)
	require.NoError(t, err)
	require.Equal(t, "Bearer std-1", rt.last.Load().Header.Get("Authorization"))
	require.Equal(t, int32(1), p.tokenCalls.Load())
}

func TestSendNormalizesProviderErrors(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	p.setAPI(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"name":    "VALIDATION_ERROR",
			"message": "Invalid request",
			"details": []map[string]string{
				{"field": "invoice_number", "issue": "DUPLICATE", "description": "already exists"},
			},
		})
	})
	d := newTestDispatcher(t, newTestManager(t, p.config()))

	_, err := d.Post(context.Background(), Alternate, "v2/invoicing/invoices", map[string]string{"number": "INV-1"})
	require.Error(t, err)

	var re *RequestError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "Status 422, VALIDATION_ERROR, DUPLICATE already exists", re.Message)
	require.Equal(t, http.StatusUnprocessableEntity, re.StatusCode())
	require.Equal(t, http.MethodPost, re.Method)
	require.Equal(t, p.URL+"/alt/v2/invoicing/invoices", re.URL)
	require.Equal(t, "POST "+re.URL+": "+re.Message, re.Error())

	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "invoice_number", se.Details[0].Field)
}

func TestSendTransportFailure(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	rt := &recordingTransport{err: &TransportError{Err: errors.New("connection reset")}}
	d := newTestDispatcher(t, newTestManager(t, p.config()), WithTransport(rt))

	_, err := d.Delete(context.Background(), Standard, "v1/webhooks/WH-1")

	var re *RequestError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "transport error: connection reset", re.Message)
	require.Zero(t, re.StatusCode())
	require.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestSendPostHelperRequestsRepresentation(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	d := newTestDispatcher(t, newTestManager(t, p.config()))

	resp, err := d.Patch(context.Background(), Standard, "v1/billing/plans/P-1", []map[string]string{{"op": "replace"}})
	require.NoError(t, err)

	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.Decode(&body))
	require.Equal(t, "PAY-1", body.ID)

	got, sent := p.last()
	require.Equal(t, http.MethodPatch, got.Method)
	require.Equal(t, PreferRepresentation, got.Header.Get(HeaderPrefer))
	require.Equal(t, "application/json", got.Header.Get("Content-Type"))
	require.JSONEq(t, `[{"op":"replace"}]`, string(sent))
}

func TestSendRequestIDHeader(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	rt := &recordingTransport{}
	clock := newTestClock(1000)
	d := newTestDispatcher(t, newTestManager(t, p.config(), WithClock(clock.Now)),
		WithTransport(rt), WithRequestIDHeader("PayPal-Request-Id"))
	ctx := context.Background()

	_, err := d.Send(ctx, Request{Method: http.MethodPost, URL: "v1/payments/payment"}, Standard)
	require.NoError(t, err)
	id, err := ulid.ParseStrict(rt.last.Load().Header.Get("PayPal-Request-Id"))
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), id.Time(), "ids follow the manager clock")

	_, err = d.Send(ctx, Request{
		Method: http.MethodPost,
		URL:    "v1/payments/payment",
		Header: http.Header{"Paypal-Request-Id": {"caller-chosen"}},
	}, Standard)
	require.NoError(t, err)
	require.Equal(t, "caller-chosen", rt.last.Load().Header.Get("PayPal-Request-Id"))
}

func TestSendRateLimit(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	rt := &recordingTransport{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	d := newTestDispatcher(t, newTestManager(t, p.config()), WithTransport(rt), WithRateLimit(limiter))

	_, err := d.Get(context.Background(), Standard, "v1/a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Get(ctx, Standard, "v1/b")

	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, int32(1), rt.calls.Load())
}

func TestSendTracing(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := newFakeProvider(t)
	p.setAPI(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	tm := newTestManager(t, p.config(), WithTracerProvider(tp))
	d := newTestDispatcher(t, tm, WithTracerProvider(tp))

	_, err := d.Get(context.Background(), Alternate, "v1/missing")
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	send, auth := byName["payclient.Send"], byName["payclient.Authenticate"]
	require.NotNil(t, send)
	require.NotNil(t, auth)
	require.Equal(t, send.SpanContext().SpanID(), auth.Parent().SpanID())
	require.Equal(t, codes.Error, send.Status().Code)
	require.Equal(t, "Status 404", send.Status().Description)
}

func TestSendFailsFastWhenProviderUnreachable(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	cfg := p.config()
	p.Close()

	rt := &recordingTransport{}
	d := newTestDispatcher(t, newTestManager(t, cfg), WithTransport(rt))

	_, err := d.Send(context.Background(), Request{Method: http.MethodPost, URL: "v1/payments/payment"}, Alternate)
	require.ErrorIs(t, err, ErrUnauthenticated)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Zero(t, rt.calls.Load())
}

func TestSendCancelledWhileAuthenticating(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	release := make(chan struct{})
	issue := p.issueToken(3600)
	p.setToken(func(w http.ResponseWriter, r *http.Request) {
		<-release
		issue(w, r)
	})
	rt := &recordingTransport{}
	d := newTestDispatcher(t, newTestManager(t, p.config()), WithTransport(rt))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := d.Send(ctx, Request{URL: "v1/payments/payment"}, Standard)
		first <- err
	}()
	require.Eventually(t, func() bool { return p.tokenCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := d.Send(context.Background(), Request{URL: "v1/payments/payment"}, Standard)
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled send still blocked on authentication")
	}

	close(release)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second send never completed")
	}
	require.Equal(t, int32(1), p.tokenCalls.Load())
	require.Equal(t, int32(1), rt.calls.Load())
	require.Equal(t, "Bearer std-1", rt.last.Load().Header.Get("Authorization"))
}

func TestSendNilResponse(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	d := newTestDispatcher(t, newTestManager(t, p.config()),
		WithTransport(TransportFunc(func(context.Context, *Request) (*Response, error) {
			return nil, nil
		})))

	var resp *Response
	var err error
	require.NotPanics(t, func() {
		resp, err = d.Get(context.Background(), Standard, "v1/payments/payment")
	})
	require.Nil(t, resp)

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	require.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestSendRefreshFailureAfterExpiry(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t)
	clock := newTestClock(1000)
	tm := newTestManager(t, p.config(), WithClock(clock.Now))
	rt := &recordingTransport{}
	d := newTestDispatcher(t, tm, WithTransport(rt))
	ctx := context.Background()

	_, err := d.Send(ctx, Request{URL: "v1/payments/payment"}, Standard)
	require.NoError(t, err)
	require.Equal(t, int32(1), p.tokenCalls.Load())
	require.Equal(t, int32(1), rt.calls.Load())

	p.setToken(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
	})
	clock.Set(4420)

	_, err = d.Send(ctx, Request{URL: "v1/payments/payment"}, Standard)
	require.ErrorIs(t, err, ErrUnauthenticated)
	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)

	require.Equal(t, int32(2), p.tokenCalls.Load(), "exactly one refresh attempt")
	require.Equal(t, int32(1), rt.calls.Load(), "expired token is never sent")

	cred, ok := tm.Credential(Standard)
	require.True(t, ok, "failed refresh keeps the previous credential")
	require.Equal(t, "std-1", cred.AccessToken)
	require.Equal(t, int64(4420), cred.ExpiresAt)
	_, ok = tm.GetValid(Standard)
	require.False(t, ok)
}
