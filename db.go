package tdb

import (
	"context"
	"errors"
	"strings"

	"github.com/localkv/tdb/fs"
)

// DB is an open handle to a database file (§4.7). Open returns one per
// successful call; all its methods are safe for concurrent use by
// goroutines within this process, and coordinate with other processes that
// have the same file open via advisory byte-range locks (§7).
type DB struct {
	engine *fs.Engine
	id     SessionID
	attrs  attributes
}

// Open opens path, creating it as an empty database if it doesn't exist.
// mode chooses ForReading or ForWriting (§4.7). The returned DB's SessionID
// is included in every message sent to the log sink, so log lines from two
// concurrently-opened handles on the same file can be told apart.
func Open(path string, mode TransactionMode, opts ...Option) (*DB, error) {
	a := resolveAttributes(opts)
	id := newSessionID()

	sink := a.logSink
	if sink == nil {
		sink = defaultSink
	}
	logf := func(level fs.LogLevel, msg string) {
		sink(Level(level), id.String()+": "+msg)
	}

	engine, err := fs.Open(path, mode == ForWriting, true, fs.Options{
		HashFunc: a.hashFunc,
		Seed:     a.seed,
		Log:      logf,
		Stats:    a.stats,
	})
	if err != nil {
		return nil, wrapOpenError(err)
	}
	return &DB{engine: engine, id: id, attrs: a}, nil
}

// Close releases the file mapping and this process's claim on the file.
func (db *DB) Close() error {
	if err := db.engine.Close(); err != nil {
		return newError(IO, err)
	}
	return nil
}

// GetID returns the session id assigned at Open.
func (db *DB) GetID() SessionID { return db.id }

// SeqNum returns the number of transactions committed against this file so
// far, for optimistic "has anything changed" change detection
// (SPEC_FULL.md §C.2).
func (db *DB) SeqNum() uint64 { return db.engine.SeqNum() }

// Stats returns a snapshot of the allocation/commit/lock counters.
func (db *DB) Stats() Stats {
	return db.attrs.stats.Snapshot()
}

// StoreMode selects store's insert/replace/modify precondition (§4.7
// "store(key, value, mode)").
type StoreMode = fs.StoreMode

const (
	// Replace writes key/value whether or not key already exists.
	Replace = fs.ModeReplace
	// Insert writes key/value only if key is not already present, failing
	// with Exists otherwise.
	Insert = fs.ModeInsert
	// Modify writes key/value only if key is already present, failing with
	// NoExist otherwise.
	Modify = fs.ModeModify
)

// Store writes key/value under mode's precondition (§4.7).
func (db *DB) Store(ctx context.Context, key, value []byte, mode StoreMode) error {
	if err := db.engine.Store(ctx, key, value, mode); err != nil {
		return wrapOpError(err, key)
	}
	return nil
}

// Fetch returns the value stored for key (§4.7).
func (db *DB) Fetch(ctx context.Context, key []byte) ([]byte, error) {
	v, err := db.engine.Fetch(ctx, key)
	if err != nil {
		return nil, wrapOpError(err, key)
	}
	return v, nil
}

// Append appends value to key's existing data, or creates it if absent
// (§4.7).
func (db *DB) Append(ctx context.Context, key, value []byte) error {
	if err := db.engine.Append(ctx, key, value); err != nil {
		return wrapOpError(err, key)
	}
	return nil
}

// Delete removes key's record, if any (§4.7).
func (db *DB) Delete(ctx context.Context, key []byte) error {
	if err := db.engine.Delete(ctx, key); err != nil {
		return wrapOpError(err, key)
	}
	return nil
}

// Traverse walks every record in the file, invoking fn for each key/value
// pair until fn returns false or every record has been visited (§4.7).
func (db *DB) Traverse(ctx context.Context, fn func(key, value []byte) bool) error {
	if err := db.engine.Traverse(ctx, fn); err != nil {
		return newError(IO, err)
	}
	return nil
}

// Check verifies the file's structural invariants: record lengths stay in
// bounds, every used record is reachable from the hash index, and every
// free list terminates without cycles (§4.7, §8).
func (db *DB) Check(ctx context.Context) error {
	if err := db.engine.Check(ctx); err != nil {
		return newError(Corrupt, err)
	}
	return nil
}

func wrapOpenError(err error) error {
	var already *fs.ErrAlreadyOpen
	if errors.As(err, &already) {
		return newError(Lock, err)
	}
	return newError(IO, err)
}

func wrapOpError(err error, key []byte) error {
	msg := err.Error()
	switch {
	case containsAny(msg, "no record for key"):
		return newError(NoExist, err, key)
	case containsAny(msg, "already exists", "already present"):
		return newError(Exists, err, key)
	case containsAny(msg, "read-only"):
		return newError(ReadOnly, err, key)
	case containsAny(msg, "exceeds maximum length"):
		return newError(EINVAL, err, key)
	default:
		return newError(IO, err, key)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
