package fs

import (
	"context"
	"fmt"

	"github.com/localkv/tdb/encoding"
)

var errNoExist = fmt.Errorf("fs: no record for key")
var errExists = fmt.Errorf("fs: key already exists")
var errReadOnly = fmt.Errorf("fs: handle is read-only")

// StoreMode selects which of store's three entry-presence preconditions
// apply (§4.7 "store(key, value, mode)"): ModeReplace (the common case)
// always succeeds, ModeInsert requires key to be absent, and ModeModify
// requires key to already be present.
type StoreMode int

const (
	ModeReplace StoreMode = iota
	ModeInsert
	ModeModify
)

// recordBytes serializes a used record's header+key+value into one buffer
// suitable for either a direct mmap write or a WAL writeOp. allocLen is the
// record's total slot footprint (as returned by freeList.alloc or an
// existing record's own AllocatedLength), recorded as ExtraLength so the
// slack between content and slot isn't lost (§4.3, §4.7 "in-place update").
func recordBytes(key, value []byte, allocLen uint64) (encoding.RecordHeader, []byte) {
	used := encoding.RecordHeaderSize + uint64(len(key)) + uint64(len(value))
	rh := encoding.RecordHeader{
		Flags:       encoding.FlagUsed,
		KeyLength:   uint32(len(key)),
		DataLength:  uint64(len(value)),
		ExtraLength: uint32(allocLen - used),
	}
	buf := make([]byte, used)
	copy(buf, encoding.EncodeRecordHeader(rh, false))
	copy(buf[encoding.RecordHeaderSize:], key)
	copy(buf[encoding.RecordHeaderSize+len(key):], value)
	return rh, buf
}

// StoreIn stages a store of key/value against an already-Begun write
// transaction, without committing it. Store (below) is the common case of
// Begin+StoreIn+commit wrapped into one call; callers that want several
// mutations to become crash-safe together use Begin, one or more
// StoreIn/DeleteIn calls, then Phase1Commit/Phase2Commit themselves.
func (e *Engine) StoreIn(ctx context.Context, t *Txn, key, value []byte, mode StoreMode) error {
	if !e.writable {
		return errReadOnly
	}
	if len(key) > encoding.MaxKeyLength || uint64(len(value)) > encoding.MaxDataLength {
		return fmt.Errorf("fs: key or value exceeds maximum length")
	}

	idx := e.hash.topIndexFor(key)
	if err := e.locks.LockHashBucket(ctx, idx, LockExclusive, true); err != nil {
		return err
	}
	defer e.locks.UnlockHashBucket(idx)

	existingOff, found, err := e.hash.lookup(key)
	if err != nil {
		return err
	}
	switch mode {
	case ModeInsert:
		if found {
			return errExists
		}
	case ModeModify:
		if !found {
			return errNoExist
		}
	}

	return e.stageStore(t, key, value, existingOff, found, false)
}

// stageStore stages the record write for key/value: in place, when an
// existing slot at existingOff already has room (§4.7 "if the existing
// record's allocated length is sufficient, update the record in place,
// preserving its offset"), or via a fresh allocation otherwise, with
// growth slack reserved when growing is set. It registers the hash-index
// update to run once the body commits.
func (e *Engine) stageStore(t *Txn, key, value []byte, existingOff uint64, found, growing bool) error {
	need := encoding.RecordHeaderSize + uint64(len(key)) + uint64(len(value))

	if found {
		existingRh, err := e.free.readRecordHeader(existingOff)
		if err != nil {
			return err
		}
		if existingRh.AllocatedLength() >= need {
			_, buf := recordBytes(key, value, existingRh.AllocatedLength())
			t.stage(existingOff, buf)
			return nil
		}
	}

	off, allocLen, err := t.allocRecord(need, growing)
	if err != nil {
		return err
	}
	_, buf := recordBytes(key, value, allocLen)
	t.stage(off, buf)

	t.afters = append(t.afters, func() error {
		if found {
			oldRh, err := e.free.readRecordHeader(existingOff)
			if err == nil {
				if _, ok, _ := e.hash.delete(key); ok {
					e.free.free(existingOff, oldRh)
					e.stats.incr(&e.stats.Frees)
				}
			}
		}
		return e.hash.insert(key, off)
	})
	return nil
}

// Store writes key/value according to mode, as its own single-operation
// transaction (§4.7 "store").
func (e *Engine) Store(ctx context.Context, key, value []byte, mode StoreMode) error {
	t, err := e.Begin(ctx, ForWriting)
	if err != nil {
		return err
	}
	if err := e.StoreIn(ctx, t, key, value, mode); err != nil {
		t.Rollback(ctx)
		return err
	}
	if err := t.Phase1Commit(ctx); err != nil {
		t.Rollback(ctx)
		return err
	}
	return t.Phase2Commit(ctx)
}

// Fetch returns the value stored for key (§4.7 "fetch").
func (e *Engine) Fetch(ctx context.Context, key []byte) ([]byte, error) {
	idx := e.hash.topIndexFor(key)
	if err := e.locks.LockHashBucket(ctx, idx, LockShared, true); err != nil {
		return nil, err
	}
	defer e.locks.UnlockHashBucket(idx)

	off, found, err := e.hash.lookup(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errNoExist
	}
	rh, err := e.free.readRecordHeader(off)
	if err != nil {
		return nil, err
	}
	start := off + encoding.RecordHeaderSize + uint64(rh.KeyLength)
	return append([]byte(nil), e.fl.mapping[start:start+rh.DataLength]...), nil
}

// AppendIn stages an append of value onto key's existing data (or creates
// it, as StoreIn with ModeReplace would, if key is absent) against an
// already-Begun write transaction, preferring an in-place update when the
// existing slot has slack for the combined length over relocating it
// (§4.7 "append").
func (e *Engine) AppendIn(ctx context.Context, t *Txn, key, value []byte) error {
	if !e.writable {
		return errReadOnly
	}

	idx := e.hash.topIndexFor(key)
	if err := e.locks.LockHashBucket(ctx, idx, LockExclusive, true); err != nil {
		return err
	}
	defer e.locks.UnlockHashBucket(idx)

	existingOff, found, err := e.hash.lookup(key)
	if err != nil {
		return err
	}

	var combined []byte
	if found {
		existingRh, err := e.free.readRecordHeader(existingOff)
		if err != nil {
			return err
		}
		start := existingOff + encoding.RecordHeaderSize + uint64(existingRh.KeyLength)
		combined = append(append([]byte(nil), e.fl.mapping[start:start+existingRh.DataLength]...), value...)
	} else {
		combined = append([]byte(nil), value...)
	}
	if len(key) > encoding.MaxKeyLength || uint64(len(combined)) > encoding.MaxDataLength {
		return fmt.Errorf("fs: key or value exceeds maximum length")
	}

	return e.stageStore(t, key, combined, existingOff, found, true)
}

// Append appends value to the data already stored for key, or behaves like
// Store if key doesn't exist yet, as its own single-operation transaction
// (§4.7 "append").
func (e *Engine) Append(ctx context.Context, key, value []byte) error {
	t, err := e.Begin(ctx, ForWriting)
	if err != nil {
		return err
	}
	if err := e.AppendIn(ctx, t, key, value); err != nil {
		t.Rollback(ctx)
		return err
	}
	if err := t.Phase1Commit(ctx); err != nil {
		t.Rollback(ctx)
		return err
	}
	return t.Phase2Commit(ctx)
}

// DeleteIn stages a Delete of key against an already-Begun write
// transaction, without committing it.
func (e *Engine) DeleteIn(ctx context.Context, t *Txn, key []byte) error {
	if !e.writable {
		return errReadOnly
	}
	idx := e.hash.topIndexFor(key)
	if err := e.locks.LockHashBucket(ctx, idx, LockExclusive, true); err != nil {
		return err
	}
	defer e.locks.UnlockHashBucket(idx)

	t.afters = append(t.afters, func() error {
		off, found, err := e.hash.delete(key)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		rh, err := e.free.readRecordHeader(off)
		if err != nil {
			return err
		}
		e.free.free(off, rh)
		e.stats.incr(&e.stats.Frees)
		return nil
	})
	return nil
}

// Delete removes key's record, if any, as its own single-operation
// transaction (§4.7 "delete"). Deleting an absent key is not an error,
// matching tdb_delete's semantics of "already gone".
func (e *Engine) Delete(ctx context.Context, key []byte) error {
	t, err := e.Begin(ctx, ForWriting)
	if err != nil {
		return err
	}
	if err := e.DeleteIn(ctx, t, key); err != nil {
		t.Rollback(ctx)
		return err
	}
	if err := t.Phase1Commit(ctx); err != nil {
		t.Rollback(ctx)
		return err
	}
	return t.Phase2Commit(ctx)
}

// Traverse walks every used record in the file in physical (offset) order
// — not hash-bucket order, which would require visiting the whole trie —
// invoking fn for each key/value pair; it stops early if fn returns false
// (§4.7 "traverse"). Traverse takes the all-records lock shared; writers
// do not take that lock, so a concurrent commit can change records while
// the walk is in progress.
func (e *Engine) Traverse(ctx context.Context, fn func(key, value []byte) bool) error {
	if err := e.locks.LockAllRecords(ctx, LockShared); err != nil {
		return err
	}
	defer e.locks.UnlockAllRecords()

	off := uint64(encoding.HeaderSize)
	for off < uint64(len(e.fl.mapping)) {
		if off+encoding.RecordHeaderSize > uint64(len(e.fl.mapping)) {
			break
		}
		rh, err := e.free.readRecordHeader(off)
		if err != nil {
			return err
		}
		alloc := rh.AllocatedLength()
		if alloc == 0 {
			break
		}
		if rh.Flags == encoding.FlagUsed {
			keyStart := off + encoding.RecordHeaderSize
			valStart := keyStart + uint64(rh.KeyLength)
			key := e.fl.mapping[keyStart:valStart]
			val := e.fl.mapping[valStart : valStart+rh.DataLength]
			if !fn(key, val) {
				return nil
			}
		}
		off += alloc
	}
	return nil
}

// Check walks the whole file verifying every invariant promised by §8:
// every record's declared length stays within the file, every used record
// is reachable from the trie by re-deriving its hash, and every free-list
// bin's chain terminates (§4.7 "check").
func (e *Engine) Check(ctx context.Context) error {
	if err := e.locks.LockAllRecords(ctx, LockShared); err != nil {
		return err
	}
	defer e.locks.UnlockAllRecords()

	fileSize := uint64(len(e.fl.mapping))
	if fileSize%encoding.PageSize != 0 {
		return fmt.Errorf("fs: check: file size %d is not a page multiple", fileSize)
	}

	off := uint64(encoding.HeaderSize)
	for off < fileSize {
		if off+encoding.RecordHeaderSize > fileSize {
			return fmt.Errorf("fs: check: truncated record header at offset %d", off)
		}
		rh, err := e.free.readRecordHeader(off)
		if err != nil {
			return err
		}
		alloc := rh.AllocatedLength()
		if alloc == 0 || off+alloc > fileSize {
			return fmt.Errorf("fs: check: record at offset %d has invalid length %d", off, alloc)
		}
		if rh.Flags == encoding.FlagUsed {
			keyStart := off + encoding.RecordHeaderSize
			key := append([]byte(nil), e.fl.mapping[keyStart:keyStart+uint64(rh.KeyLength)]...)
			foundOff, found, err := e.hash.lookup(key)
			if err != nil {
				return fmt.Errorf("fs: check: looking up key at offset %d: %w", off, err)
			}
			if !found || foundOff != off {
				return fmt.Errorf("fs: check: record at offset %d is unreachable from the hash index", off)
			}
		}
		off += alloc
	}

	bins := e.free.readHeader()
	for bin, head := range bins.Bins {
		seen := map[uint64]bool{}
		for cur := head; cur != 0; {
			if seen[cur] {
				return fmt.Errorf("fs: check: free list bin %d has a cycle", bin)
			}
			seen[cur] = true
			rh, err := e.free.readRecordHeader(cur)
			if err != nil {
				return err
			}
			if !rh.IsFree() {
				return fmt.Errorf("fs: check: free list bin %d references a non-free record at %d", bin, cur)
			}
			cur = readFreeNext(e.fl.mapping[cur+encoding.RecordHeaderSize:])
		}
	}
	return nil
}
