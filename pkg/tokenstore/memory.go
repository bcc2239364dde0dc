// Package tokenstore provides payclient.Store implementations that need no
// external service, plus a sealing decorator usable with any Store.
package tokenstore

import (
	"context"
	"sync"

	"github.com/aussiebroadwan/payclient/pkg/payclient"
)

// Memory keeps records in process memory. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[string]payclient.Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]payclient.Record)}
}

// Load returns a copy of the record stored under key.
func (m *Memory) Load(_ context.Context, key string) (payclient.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return payclient.Record{}, payclient.ErrRecordNotFound
	}
	return copyRecord(rec), nil
}

// Save replaces the record stored under key.
func (m *Memory) Save(_ context.Context, key string, rec payclient.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[key] = copyRecord(rec)
	return nil
}

// copyRecord detaches the credential pointers so callers cannot mutate
// stored state.
func copyRecord(rec payclient.Record) payclient.Record {
	var out payclient.Record
	for _, family := range payclient.Families {
		if c := rec.Get(family); c != nil {
			cp := *c
			out.Set(family, &cp)
		}
	}
	return out
}
