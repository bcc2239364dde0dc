package payclient

import (
	"context"
	"errors"
	"time"
)

// Credential is a cached access token plus its locally computed expiry.
//
// ExpiresAt is a unix timestamp already reduced by the configured safety
// margin, so a Credential stops being valid before the provider would reject it.
type Credential struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// ValidAt reports whether the credential can still be used at t.
func (c Credential) ValidAt(t time.Time) bool {
	return c.ExpiresAt > t.Unix()
}

// Expiry returns ExpiresAt as a time.Time.
func (c Credential) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0).UTC()
}

// Record is the persisted form of both Credential slots.
type Record struct {
	Auth  *Credential `json:"auth,omitempty"`
	MAuth *Credential `json:"mAuth,omitempty"`
}

// Get returns the credential stored for family, or nil.
func (r Record) Get(family EndpointFamily) *Credential {
	switch family {
	case Standard:
		return r.Auth
	case Alternate:
		return r.MAuth
	default:
		return nil
	}
}

// Set replaces the credential stored for family.
func (r *Record) Set(family EndpointFamily, c *Credential) {
	switch family {
	case Standard:
		r.Auth = c
	case Alternate:
		r.MAuth = c
	}
}

// ErrRecordNotFound is returned by a Store when nothing has been persisted
// for the requested key yet.
var ErrRecordNotFound = errors.New("payclient: token record not found")

// Store durably keeps the token Record across process restarts.
// Implementations live in the tokenstore packages.
type Store interface {
	Load(ctx context.Context, key string) (Record, error)
	Save(ctx context.Context, key string, rec Record) error
}
