// Package redisstore persists payclient token records in Redis so several
// processes can share one access token per endpoint family.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/payclient/pkg/payclient"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "payclient:"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	// TTL expires stored records; zero keeps them forever.
	TTL time.Duration
}

// Store implements payclient.Store on top of a Redis string key per provider.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a store with its own client. Call Ping to verify connectivity.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	s := NewFromClient(client, opts.Prefix)
	s.ttl = opts.TTL
	return s
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Ping tests the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) key(provider string) string {
	return s.prefix + "token:" + provider
}

// Load reads and decodes the record for provider.
func (s *Store) Load(ctx context.Context, provider string) (payclient.Record, error) {
	data, err := s.client.Get(ctx, s.key(provider)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return payclient.Record{}, payclient.ErrRecordNotFound
		}
		return payclient.Record{}, fmt.Errorf("redisstore: get %s: %w", provider, err)
	}

	var rec payclient.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return payclient.Record{}, fmt.Errorf("redisstore: decode %s: %w", provider, err)
	}
	return rec, nil
}

// Save encodes rec as JSON and overwrites the provider key.
func (s *Store) Save(ctx context.Context, provider string, rec payclient.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s: %w", provider, err)
	}
	if err := s.client.Set(ctx, s.key(provider), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", provider, err)
	}
	return nil
}
