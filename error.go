package tdb

import "fmt"

// ErrorCode enumerates the database's error categories (§6 "Errors", §7).
type ErrorCode int

const (
	// Success is never itself wrapped in an Error; it exists so ErrorCode's
	// zero value has a name distinct from an unset/unknown code.
	Success ErrorCode = iota
	// Corrupt indicates the on-disk structure failed Check (a record length
	// out of bounds, an unreachable record, a broken free-list chain). Open
	// does not check the magic string, and reports a failed hash self-test
	// as IO.
	Corrupt
	// IO indicates a failure from the underlying file/mmap/lock syscalls.
	IO
	// Lock indicates a byte-range lock could not be acquired, including
	// after exhausting the EAGAIN retry budget (§7).
	Lock
	// OOM indicates the free-space manager could not satisfy an allocation,
	// including after extending the file.
	OOM
	// Exists indicates a store/record-creation call found an item already
	// present where none was expected.
	Exists
	// EINVAL indicates a caller error: a key or value longer than the
	// record header can address.
	EINVAL
	// NoExist indicates a lookup found no record for the given key.
	NoExist
	// ReadOnly indicates a mutating call was made against a handle opened
	// read-only.
	ReadOnly
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "success"
	case Corrupt:
		return "corrupt"
	case IO:
		return "io"
	case Lock:
		return "lock"
	case OOM:
		return "oom"
	case Exists:
		return "exists"
	case EINVAL:
		return "einval"
	case NoExist:
		return "no-exist"
	case ReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// Error is the database's error type: a category code, the wrapped cause,
// and optional caller-relevant context (a key, an offset, a store path).
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData == nil {
		return fmt.Errorf("tdb: %s: %w", e.Code, e.Err).Error()
	}
	return fmt.Errorf("tdb: %s: %w (context: %v)", e.Code, e.Err, e.UserData).Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// newError builds an Error, omitting the context suffix entirely when no
// UserData was supplied (avoids "(context: <nil>)" noise on the common path).
func newError(code ErrorCode, err error, userData ...any) Error {
	e := Error{Code: code, Err: err}
	if len(userData) > 0 {
		e.UserData = userData[0]
	}
	return e
}
