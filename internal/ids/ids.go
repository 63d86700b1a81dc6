// Package ids generates record identifiers. ULIDs sort by creation time,
// which keeps index pages warm on the insert path for both store backends.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh identifier. IDs are opaque to callers, never reused,
// and safe to expose in URLs.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
