// Package sqlitestore persists payclient token records in a local SQLite
// database, one JSON payload per provider.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aussiebroadwan/payclient/pkg/payclient"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to dsn. Call ApplyMigrations before first use.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One connection serializes writers within the process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load returns the record for provider.
func (s *Store) Load(ctx context.Context, provider string) (payclient.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM token_records WHERE provider = ?`, provider,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return payclient.Record{}, payclient.ErrRecordNotFound
	}
	if err != nil {
		return payclient.Record{}, fmt.Errorf("sqlitestore: load %s: %w", provider, err)
	}

	var rec payclient.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return payclient.Record{}, fmt.Errorf("sqlitestore: decode %s: %w", provider, err)
	}
	return rec, nil
}

// Save upserts the record for provider.
func (s *Store) Save(ctx context.Context, provider string, rec payclient.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode %s: %w", provider, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO token_records (provider, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		provider, string(payload), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: save %s: %w", provider, err)
	}
	return nil
}
