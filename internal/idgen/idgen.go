// Package idgen mints the process-local identifiers this codebase needs
// for correlation that the wire protocol itself doesn't provide — session
// log prefixes and match-batch trace ids. Client, service and subscription
// ids are chosen by clients, not generated here.
package idgen

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// SessionID returns a lexically sortable id for a new connection, used as
// the log prefix for everything that happens on it.
func SessionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// TraceID returns a fresh random UUID string for use as a correlation id.
// No log line in this module carries one.
func TraceID() string {
	return uuid.NewString()
}

// maxInt63 bounds RandomInt64's output to the protocol's non-negative,
// 63-bit id space.
var maxInt63 = big.NewInt(1<<63 - 1)

// RandomInt64 returns a non-negative random 64-bit value, for callers that
// need a fresh client, service or subscription id without picking one by
// hand.
func RandomInt64() int64 {
	n, err := rand.Int(rand.Reader, maxInt63)
	if err != nil {
		panic(err)
	}
	return n.Int64()
}
