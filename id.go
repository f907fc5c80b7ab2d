package tdb

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one Open call for the lifetime of the returned
// handle. It is surfaced to the log sink (§6 "log-sink") so that messages
// from concurrent openers of the same file can be told apart, and is a thin
// wrapper over github.com/google/uuid to keep the public API decoupled from
// the external package's type.
type SessionID uuid.UUID

// NilSessionID is the zero-value SessionID.
var NilSessionID SessionID

// newSessionID returns a new randomly generated id. It retries on error with
// a 1ms backoff up to 10 times and panics only if every attempt fails, which
// should never happen under normal conditions.
func newSessionID() SessionID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return SessionID(id)
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}

// IsNil reports whether id equals the zero-value SessionID.
func (id SessionID) IsNil() bool {
	return bytes.Equal(id[:], NilSessionID[:])
}

// String returns the canonical string representation of id.
func (id SessionID) String() string {
	return uuid.UUID(id).String()
}
