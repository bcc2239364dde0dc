package tokenstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/payclient/pkg/cryptox"
	"github.com/aussiebroadwan/payclient/pkg/payclient"
)

// sealedPrefix marks an access token that was encrypted by Sealed.
const sealedPrefix = "enc:v1:"

// Sealed encrypts access tokens before handing records to the wrapped Store
// and decrypts them on Load. Tokens written before sealing was enabled are
// returned as-is.
type Sealed struct {
	store  payclient.Store
	sealer *cryptox.Sealer
}

// NewSealed wraps store.
func NewSealed(store payclient.Store, sealer *cryptox.Sealer) *Sealed {
	return &Sealed{store: store, sealer: sealer}
}

// Load reads the record from the wrapped store and opens sealed tokens.
func (s *Sealed) Load(ctx context.Context, key string) (payclient.Record, error) {
	rec, err := s.store.Load(ctx, key)
	if err != nil {
		return payclient.Record{}, err
	}

	var out payclient.Record
	for _, family := range payclient.Families {
		c := rec.Get(family)
		if c == nil {
			continue
		}
		cp := *c
		if encoded, ok := strings.CutPrefix(cp.AccessToken, sealedPrefix); ok {
			plain, err := s.sealer.Open(encoded)
			if err != nil {
				return payclient.Record{}, fmt.Errorf("tokenstore: open %s token: %w", family, err)
			}
			cp.AccessToken = string(plain)
		}
		out.Set(family, &cp)
	}
	return out, nil
}

// Save seals every access token in rec and writes the result.
func (s *Sealed) Save(ctx context.Context, key string, rec payclient.Record) error {
	var out payclient.Record
	for _, family := range payclient.Families {
		c := rec.Get(family)
		if c == nil {
			continue
		}
		cp := *c
		sealed, err := s.sealer.Seal([]byte(cp.AccessToken))
		if err != nil {
			return fmt.Errorf("tokenstore: seal %s token: %w", family, err)
		}
		cp.AccessToken = sealedPrefix + sealed
		out.Set(family, &cp)
	}
	return s.store.Save(ctx, key, out)
}
