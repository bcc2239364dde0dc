// Package paykit assembles a ready-to-use payment client from a Config:
// logger, token store, TokenManager and Dispatcher.
package paykit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/payclient/pkg/cryptox"
	"github.com/aussiebroadwan/payclient/pkg/payclient"
	"github.com/aussiebroadwan/payclient/pkg/slogx"
	"github.com/aussiebroadwan/payclient/pkg/tokenstore"
	"github.com/aussiebroadwan/payclient/pkg/tokenstore/redisstore"
	"github.com/aussiebroadwan/payclient/pkg/tokenstore/sqlitestore"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Kit bundles the client with everything it depends on.
type Kit struct {
	cfg    Config
	logger *slog.Logger

	store  payclient.Store
	Tokens *payclient.TokenManager
	API    *payclient.Dispatcher

	closers []func() error
}

// New validates cfg, opens the configured token store, restores persisted
// tokens and wires the dispatcher. Extra options are applied to both the
// TokenManager and the Dispatcher after the ones derived from cfg.
func New(ctx context.Context, cfg Config, opts ...payclient.Option) (*Kit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kit := &Kit{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "payclient",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := kit.initStore(ctx); err != nil {
		_ = kit.Close()
		return nil, err
	}

	kit.initClient(opts)

	// A broken store degrades to authenticating on first use.
	if err := kit.Tokens.Warm(ctx); err != nil {
		kit.logger.Warn("failed to restore persisted tokens", "error", err)
	}

	kit.logger.Info("payment client ready",
		"store", cfg.Store,
		"provider", cfg.Provider,
		"sealed", cfg.SealKey != "",
	)
	return kit, nil
}

// initStore opens the token store and wraps it with sealing when configured.
func (k *Kit) initStore(ctx context.Context) error {
	var store payclient.Store

	switch k.cfg.Store {
	case StoreRedis:
		rs := redisstore.New(redisstore.Options{
			Addr:     k.cfg.Redis.Addr,
			Password: k.cfg.Redis.Password,
			DB:       k.cfg.Redis.DB,
			Prefix:   k.cfg.Redis.Prefix,
		})
		k.closers = append(k.closers, rs.Close)
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect token store: %w", err)
		}
		store = rs

	case StoreSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", k.cfg.SQLitePath)
		ss, err := sqlitestore.Open(dsn)
		if err != nil {
			return fmt.Errorf("failed to open token store: %w", err)
		}
		k.closers = append(k.closers, ss.Close)
		if err := ss.ApplyMigrations(); err != nil {
			return fmt.Errorf("failed to apply token store migrations: %w", err)
		}
		store = ss

	default:
		store = tokenstore.NewMemory()
	}

	if k.cfg.SealKey != "" {
		sealer, err := cryptox.NewSealer([]byte(k.cfg.SealKey))
		if err != nil {
			return fmt.Errorf("failed to initialize token sealing: %w", err)
		}
		store = tokenstore.NewSealed(store, sealer)
	}

	k.store = store
	return nil
}

func (k *Kit) initClient(extra []payclient.Option) {
	base := []payclient.Option{
		payclient.WithLogger(k.logger),
		payclient.WithStore(k.store),
		payclient.WithTransport(payclient.NewHTTPTransport(&http.Client{
			Timeout:   k.cfg.RequestTimeout,
			Transport: slogx.NewTransport(nil, k.logger),
		})),
		payclient.WithRateLimit(k.cfg.RateLimit.Limiter()),
		payclient.WithRequestIDHeader(k.cfg.RequestIDHeader),
	}
	opts := append(base, extra...)

	k.Tokens = payclient.NewTokenManager(k.cfg.ClientConfig(), opts...)
	k.API = payclient.NewDispatcher(k.Tokens, opts...)
}

// Logger returns the kit's structured logger.
func (k *Kit) Logger() *slog.Logger {
	return k.logger
}

// Send is shorthand for k.API.Send.
func (k *Kit) Send(ctx context.Context, req payclient.Request, family payclient.EndpointFamily) (*payclient.Response, error) {
	return k.API.Send(ctx, req, family)
}

// Close releases store connections. It is safe to call more than once.
func (k *Kit) Close() error {
	var errs []error
	for i := len(k.closers) - 1; i >= 0; i-- {
		if err := k.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	k.closers = nil
	return errors.Join(errs...)
}
