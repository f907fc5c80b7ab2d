package fs

import (
	"context"
	"fmt"

	"github.com/localkv/tdb/encoding"
)

// Txn is the fs package's two-phase-commit transaction: callers stage
// mutations against it (via the Engine's Store/Append/Delete, which forward
// to an implicit single-operation Txn unless the caller started one
// explicitly) and then Phase1Commit/Phase2Commit to make them crash-safe
// (§2 "Transaction & recovery"). It implements the shape the root package's
// TwoPhaseCommitTransaction interface expects, without this package
// importing the root package (which would cycle).
type Txn struct {
	e       *Engine
	mode    Mode
	begun   bool
	ops     []writeOp
	recOff  uint64
	rm      *recoveryManager
	touched map[uint64]uint64 // offset -> footprint of allocations made this txn, for Rollback to free

	// afters run in order once Phase2Commit has durably applied ops (or
	// immediately, if there were none to stage). This is where the single
	// aligned-word trie/free-list pointer flips happen: per the real tdb2
	// design this package follows, a lone word-sized write is atomic at the
	// OS/page level and doesn't itself need write-ahead protection, only
	// the multi-word record body it points to does (DESIGN.md, "fs/txn.go"
	// section). Keeping pointer flips out of the WAL also means a
	// crash between body-commit and pointer-flip just leaks an
	// unreferenced record rather than ever exposing a half-written one.
	// Grouping several Store/Delete calls into one explicit transaction
	// (Engine.Begin + StoreIn/DeleteIn + Phase1Commit/Phase2Commit) simply
	// accumulates more entries here before they all run together.
	afters []func() error
}

// Begin starts a new writer transaction, taking the process-local write
// mutex and the file's transaction byte-range lock so only one writer
// across all processes is mid-commit at a time (§7).
func (e *Engine) Begin(ctx context.Context, mode Mode) (*Txn, error) {
	if mode == ForWriting {
		if !e.writable {
			return nil, fmt.Errorf("fs: cannot begin a write transaction: %w", errReadOnly)
		}
		e.mu.Lock()
		if err := e.locks.LockTransaction(ctx, true); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	rm := newRecoveryManager(e.fl, e.free,
		func() uint64 { return e.readHeader().Recovery },
		func(off uint64) { e.setHeaderRecovery(off) })
	return &Txn{e: e, mode: mode, begun: true, rm: rm, touched: map[uint64]uint64{}}, nil
}

func (t *Txn) HasBegun() bool { return t.begun }
func (t *Txn) GetMode() Mode  { return t.mode }

// stage records a byte-range write to be applied at Phase2Commit. Used
// internally by Store/Append/Delete below.
func (t *Txn) stage(offset uint64, data []byte) {
	t.ops = append(t.ops, writeOp{offset: offset, data: append([]byte(nil), data...)})
}

// Phase1Commit captures the before-image of every staged write into a
// recovery record and fsyncs it, twice: once with the record marked
// not-yet-committed, once after flipping it to committed (§4.6 steps 2-4).
// A crash at any point up to and including this call leaves every
// destination untouched, so the next Open's recovery pass — whether it
// finds the record committed or not — restores exactly the state already
// on disk.
func (t *Txn) Phase1Commit(ctx context.Context) error {
	if t.mode != ForWriting {
		return nil
	}
	if len(t.ops) == 0 {
		return nil
	}
	off, err := t.rm.stage(t.ops)
	if err != nil {
		return err
	}
	t.recOff = off
	return nil
}

// Phase2Commit applies the staged writes, bumps the sequence number, and
// clears the recovery record (§2, SPEC_FULL.md §C.2).
func (t *Txn) Phase2Commit(ctx context.Context) error {
	if t.mode != ForWriting {
		return t.finish()
	}
	if len(t.ops) > 0 {
		if err := t.rm.commit(t.recOff, t.ops); err != nil {
			return err
		}
	}
	// From here the new records get linked in; Rollback no longer frees them.
	t.touched = nil
	for _, after := range t.afters {
		if err := after(); err != nil {
			return err
		}
	}
	t.e.bumpSeqNum()
	t.e.stats.incr(&t.e.stats.Commits)
	return t.finish()
}

// Rollback discards any staged-but-uncommitted recovery record and frees
// allocations made for this transaction's new records, releasing the
// transaction lock in all cases.
func (t *Txn) Rollback(ctx context.Context) error {
	if t.mode == ForWriting && t.recOff != 0 {
		t.rm.discard(t.recOff)
	}
	for off, allocLen := range t.touched {
		t.e.free.insertFree(off, allocLen, encoding.FlagFree)
	}
	t.e.stats.incr(&t.e.stats.Rollbacks)
	return t.finish()
}

func (t *Txn) finish() error {
	if t.mode == ForWriting && t.begun {
		t.e.locks.UnlockTransaction()
		t.e.mu.Unlock()
	}
	t.begun = false
	return nil
}

func (t *Txn) Close() error { return nil }

// allocRecord carves out at least need bytes for a new used record via the
// free list, tracked so Rollback knows what to release if the transaction
// never reaches Phase2Commit. growing requests extra slack past need
// (§4.3 "Alloc(..., growing)"); the returned length is the slot's actual
// footprint, which the caller records as the record's ExtraLength.
func (t *Txn) allocRecord(need uint64, growing bool) (uint64, uint64, error) {
	off, allocLen, err := t.e.free.alloc(need, growing)
	if err != nil {
		return 0, 0, err
	}
	t.touched[off] = allocLen
	t.e.stats.incr(&t.e.stats.Allocs)
	return off, allocLen, nil
}
