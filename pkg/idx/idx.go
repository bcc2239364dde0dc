// Package idx generates ULID-based correlation ids for outbound requests.
// ULIDs sort by creation time, which keeps provider-side request logs in
// order when they are looked up later.
package idx

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewAt returns an ID stamped with t. Calls within the same millisecond are
// still strictly increasing thanks to the monotonic entropy source.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()

	return ID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

func (id ID) String() string { return string(id) }
