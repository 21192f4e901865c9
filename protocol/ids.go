package protocol

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDLengthLimit is the longest correlation token the terminal accepts.
const IDLengthLimit = 32

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a fresh correlation id: a 26-character Crockford
// base32 ULID, comfortably inside IDLengthLimit.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTransactionNumber returns a transaction number for a payIntent.
// Uniqueness is not guaranteed, matching what terminals expect.
func NewTransactionNumber() int {
	return rand.Intn(32000)
}
