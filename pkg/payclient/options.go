package payclient

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/aussiebroadwan/payclient"

// options is shared by NewTokenManager and NewDispatcher; each constructor
// reads only the fields it needs.
type options struct {
	logger         *slog.Logger
	httpClient     *http.Client
	store          Store
	now            func() time.Time
	tracerProvider trace.TracerProvider
	coalesce       bool

	transport       Transport
	limiter         *rate.Limiter
	requestIDHeader string
}

// Option customizes a TokenManager or Dispatcher.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:         slog.Default(),
		now:            time.Now,
		tracerProvider: otel.GetTracerProvider(),
		coalesce:       true,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the structured logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient overrides the client used for the token exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithStore enables persistence of the token record.
func WithStore(store Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithClock overrides the time source (testing).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTracerProvider overrides the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithCoalescing toggles merging of concurrent Authenticate calls for the
// same family into one in-flight exchange. Enabled by default.
func WithCoalescing(enabled bool) Option {
	return func(o *options) {
		o.coalesce = enabled
	}
}

// WithTransport overrides the transport used by the Dispatcher.
func WithTransport(t Transport) Option {
	return func(o *options) {
		if t != nil {
			o.transport = t
		}
	}
}

// WithRateLimit throttles outbound dispatcher calls. A nil limiter disables it.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = limiter
	}
}

// WithRequestIDHeader makes the Dispatcher stamp each request with a fresh
// ULID under header name, unless the caller already set one.
func WithRequestIDHeader(name string) Option {
	return func(o *options) {
		o.requestIDHeader = name
	}
}
