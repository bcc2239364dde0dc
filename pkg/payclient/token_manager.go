package payclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/payclient/pkg/slogx"
)

const tokenComponent = "payclient.tokens"

// TokenManager produces and caches exactly one Credential per EndpointFamily.
//
// Slots are replaced atomically, so readers never observe a half-written
// Credential. Concurrent refreshes are tolerated: the last successful
// exchange wins.
type TokenManager struct {
	cfg        Config
	store      Store
	logger     *slog.Logger
	httpClient *http.Client
	now        func() time.Time
	tracer     trace.Tracer

	coalesce bool
	group    singleflight.Group

	slots   [familyCount]atomic.Pointer[Credential]
	lastErr [familyCount]atomic.Pointer[authFailure]

	// persistMu orders Save calls so the store ends up with the newest snapshot.
	persistMu sync.Mutex
}

type authFailure struct {
	err error
}

// NewTokenManager creates a manager for both endpoint families. Construct it
// once per process and share it between dispatchers.
func NewTokenManager(cfg Config, opts ...Option) *TokenManager {
	o := applyOptions(opts)
	cfg = cfg.withDefaults()

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.AuthTimeout,
			Transport: slogx.NewTransport(nil, o.logger),
		}
	}

	return &TokenManager{
		cfg:        cfg,
		store:      o.store,
		logger:     o.logger.With("component", tokenComponent),
		httpClient: httpClient,
		now:        o.now,
		tracer:     o.tracerProvider.Tracer(tracerName),
		coalesce:   o.coalesce,
	}
}

// Config returns the effective configuration, defaults applied.
func (tm *TokenManager) Config() Config {
	return tm.cfg
}

// GetValid returns the cached credential for family if it has not expired.
// A false result means the caller must Authenticate first.
func (tm *TokenManager) GetValid(family EndpointFamily) (Credential, bool) {
	c, ok := tm.Credential(family)
	if !ok || !c.ValidAt(tm.now()) {
		return Credential{}, false
	}
	return c, true
}

// Credential returns whatever is in the slot for family, expired or not.
func (tm *TokenManager) Credential(family EndpointFamily) (Credential, bool) {
	if !family.valid() {
		return Credential{}, false
	}
	c := tm.slots[family].Load()
	if c == nil {
		return Credential{}, false
	}
	return *c, true
}

// LastError returns the failure recorded by the most recent unsuccessful
// Authenticate for family, or nil if the last attempt succeeded.
func (tm *TokenManager) LastError(family EndpointFamily) error {
	if !family.valid() {
		return fmt.Errorf("payclient: unknown endpoint family %d", int(family))
	}
	if f := tm.lastErr[family].Load(); f != nil {
		return f.err
	}
	return nil
}

// Authenticate performs a client-credentials exchange for family and caches
// the result. It never returns an error: failures are logged, recorded for
// LastError, and reported as false, leaving any previous Credential in place.
func (tm *TokenManager) Authenticate(ctx context.Context, family EndpointFamily) bool {
	if !family.valid() {
		tm.logger.Error("authentication failed", "context", family.String(), "error", "unknown endpoint family")
		return false
	}

	if !tm.coalesce {
		return tm.authenticate(ctx, family)
	}

	// The shared exchange outlives any single waiter; exchange bounds it with
	// AuthTimeout. Each waiter still gives up when its own ctx ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := tm.group.DoChan(family.String(), func() (any, error) {
		return tm.authenticate(flightCtx, family), nil
	})

	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		tm.logger.Warn("authentication abandoned", "context", family.String(), "error", ctx.Err())
		return false
	}
}

func (tm *TokenManager) authenticate(ctx context.Context, family EndpointFamily) bool {
	ctx, span := tm.tracer.Start(ctx, "payclient.Authenticate",
		trace.WithAttributes(attribute.String("payclient.family", family.String())),
	)
	defer span.End()

	cred, err := tm.exchange(ctx, family)
	if err != nil {
		msg := Normalize(err)
		tm.lastErr[family].Store(&authFailure{err: err})
		authAttemptsTotal.WithLabelValues(family.String(), "failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		tm.logger.Error("authentication failed", "context", family.String(), "error", msg)
		return false
	}

	tm.slots[family].Store(&cred)
	tm.lastErr[family].Store(nil)
	authAttemptsTotal.WithLabelValues(family.String(), "success").Inc()
	tm.logger.Info("access token acquired",
		"context", family.String(),
		"expires_at", cred.Expiry().Format(time.RFC3339),
	)

	tm.persist(ctx)
	return true
}

// exchange runs the token request and converts the response into a Credential.
func (tm *TokenManager) exchange(ctx context.Context, family EndpointFamily) (Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, tm.cfg.AuthTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.httpClient)

	conf := clientcredentials.Config{
		ClientID:     tm.cfg.ClientID,
		ClientSecret: tm.cfg.ClientSecret,
		TokenURL:     tm.cfg.TokenURL(family),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	issuedAt := tm.now()
	tok, err := conf.Token(ctx)
	if err != nil {
		return Credential{}, classifyTokenError(err)
	}
	if tok.AccessToken == "" {
		return Credential{}, &MalformedResponseError{Reason: "token response missing access_token"}
	}

	lifetime := declaredLifetime(tok)
	margin := int64(tm.cfg.SafetyMargin / time.Second)

	return Credential{
		AccessToken: tok.AccessToken,
		ExpiresAt:   issuedAt.Unix() + lifetime - margin,
	}, nil
}

// declaredLifetime reads expires_in (seconds) from the raw token response,
// falling back to DefaultTokenLifetime when absent or not positive.
func declaredLifetime(tok *oauth2.Token) int64 {
	var secs int64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case int:
		secs = int64(v)
	case json.Number:
		secs, _ = v.Int64()
	case string:
		secs, _ = strconv.ParseInt(v, 10, 64)
	}
	if secs <= 0 {
		return int64(DefaultTokenLifetime / time.Second)
	}
	return secs
}

// classifyTokenError maps errors from the oauth2 package onto the Failure union.
func classifyTokenError(err error) Failure {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if status >= 200 && status <= 299 {
			return &MalformedResponseError{Reason: "token response", Body: re.Body, Err: err}
		}
		return parseStatusError(status, re.Body)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Err: err}
	}

	return &MalformedResponseError{Reason: "token response", Err: err}
}

// Warm seeds empty slots from the persisted record. Expired entries are
// loaded too; GetValid simply rejects them.
func (tm *TokenManager) Warm(ctx context.Context) error {
	if tm.store == nil {
		return nil
	}

	rec, err := tm.store.Load(ctx, tm.cfg.ProviderName)
	if errors.Is(err, ErrRecordNotFound) {
		tm.logger.Debug("no persisted tokens", "context", tm.cfg.ProviderName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("payclient: load token record: %w", err)
	}

	for _, family := range Families {
		c := rec.Get(family)
		if c == nil || c.AccessToken == "" {
			continue
		}
		cp := *c
		if tm.slots[family].CompareAndSwap(nil, &cp) {
			tm.logger.Debug("restored persisted token",
				"context", family.String(),
				"expires_at", cp.Expiry().Format(time.RFC3339),
			)
		}
	}
	return nil
}

// snapshot copies both slots into a Record.
func (tm *TokenManager) snapshot() Record {
	var rec Record
	for _, family := range Families {
		if c := tm.slots[family].Load(); c != nil {
			cp := *c
			rec.Set(family, &cp)
		}
	}
	return rec
}

// persist writes the current slots. Failures are logged and counted only.
func (tm *TokenManager) persist(ctx context.Context) {
	if tm.store == nil {
		return
	}

	tm.persistMu.Lock()
	defer tm.persistMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := tm.store.Save(ctx, tm.cfg.ProviderName, tm.snapshot()); err != nil {
		persistFailuresTotal.Inc()
		tm.logger.Warn("failed to persist tokens", "context", tm.cfg.ProviderName, "error", err)
	}
}
