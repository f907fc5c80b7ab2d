package fs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/localkv/tdb/encoding"
)

// LogLevel mirrors the handful of severities the root package's LogSink
// distinguishes, kept as a plain int here so this package never imports the
// root tdb package (which imports fs, so the reverse import would cycle).
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// LogFunc is the engine's log callback, adapted from the root package's
// LogSink by the caller of Open.
type LogFunc func(level LogLevel, msg string)

// Mode mirrors the root package's TransactionMode.
type Mode int

const (
	ForReading Mode = iota
	ForWriting
)

// Stats tracks the counters the root package's Stats attribute surfaces
// (§6 "stats"): allocations, frees, file expansions, committed/rolled-back
// transactions, and lock-wait occurrences. No code path increments
// LockWaits, so it stays 0.
type Stats struct {
	mu          sync.Mutex
	Allocs      uint64
	Frees       uint64
	Expansions  uint64
	Commits     uint64
	Rollbacks   uint64
	LockWaits   uint64
}

func (s *Stats) incr(p *uint64) {
	s.mu.Lock()
	*p++
	s.mu.Unlock()
}

func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Allocs: s.Allocs, Frees: s.Frees, Expansions: s.Expansions,
		Commits: s.Commits, Rollbacks: s.Rollbacks, LockWaits: s.LockWaits,
	}
}

// LogSnapshot emits the current counters as structured zap fields, a
// distinct concern from the free-text log sink (SPEC_FULL.md §A.1): a
// periodic or on-close snapshot for dashboards, not a line of prose.
func (s *Stats) LogSnapshot(logger *zap.Logger) {
	snap := s.Snapshot()
	logger.Info("tdb stats snapshot",
		zap.Uint64("allocs", snap.Allocs),
		zap.Uint64("frees", snap.Frees),
		zap.Uint64("expansions", snap.Expansions),
		zap.Uint64("commits", snap.Commits),
		zap.Uint64("rollbacks", snap.Rollbacks),
		zap.Uint64("lock_waits", snap.LockWaits),
	)
}

// Engine is the filesystem-backed implementation of every operation in
// SPEC_FULL.md's "File I/O & mmap" through "Public operations" components.
// One Engine corresponds to one successful Open call.
type Engine struct {
	path     string
	writable bool
	fl       *file
	locks    *LockManager
	free     *freeList
	hash     *hashIndex
	log      LogFunc
	stats    *Stats

	mu sync.Mutex // serializes writer transactions within this process
}

// Options collects Open's tunables, already resolved from the root
// package's functional-option attributes (§6).
type Options struct {
	HashFunc HashFunc
	Seed     uint64
	Log      LogFunc
	Stats    *Stats
}

// Open opens (or, if create is true and the file is absent, creates) the
// database at path. writable selects ForWriting vs. ForReading: a
// write-only open (O_WRONLY-equivalent) is never offered by this API
// because every read needs the mapping readable regardless of intent,
// mirroring tdb_open's O_ACCMODE rejection (SPEC_FULL.md §C.3).
func Open(path string, writable, create bool, opts Options) (*Engine, error) {
	if opts.HashFunc == nil {
		opts.HashFunc = seededXXHash
	}
	if opts.Log == nil {
		opts.Log = func(LogLevel, string) {}
	}
	if opts.Stats == nil {
		opts.Stats = &Stats{}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if !create {
			return nil, fmt.Errorf("fs: %s does not exist", path)
		}
		var magic [encoding.MagicSize]byte
		copy(magic[:], "TDBGO001 local-kv hash store\x00\x00\x00\x00")
		if err := createEmpty(path, magic, opts.Seed, hashTestValue(opts.HashFunc, opts.Seed)); err != nil {
			return nil, err
		}
	}

	fl, err := openFile(path, writable)
	if err != nil {
		return nil, err
	}
	if err := registry.register(path, fl.info); err != nil {
		fl.close()
		return nil, err
	}

	locks := newLockManager(int(fl.f.Fd()))
	if err := locks.LockOpen(noopCtx{}, LockShared); err != nil {
		registry.unregister(fl.info)
		fl.close()
		return nil, err
	}
	defer locks.UnlockOpen()

	hdr, err := encoding.DecodeHeader(fl.mapping[:encoding.HeaderSize], false)
	if err != nil {
		registry.unregister(fl.info)
		fl.close()
		return nil, fmt.Errorf("fs: %w", err)
	}
	if hdr.HashTest != hashTestValue(opts.HashFunc, hdr.HashSeed) {
		registry.unregister(fl.info)
		fl.close()
		return nil, fmt.Errorf("fs: %s failed hash self-test, refusing to open a possibly-corrupt file", path)
	}
	if n := encoding.StoredTopGroupCount(fl.mapping, false); n != encoding.TopGroupSize {
		registry.unregister(fl.info)
		fl.close()
		return nil, fmt.Errorf("fs: %s has %d top-level hash slots, this build uses %d", path, n, encoding.TopGroupSize)
	}

	freeListOff := hdr.FreeTable
	if freeListOff == 0 {
		// First-ever open of a freshly created file: carve out the
		// free-list header record and point the on-disk header at it.
		freeListOff, err = bootstrapFreeList(fl)
		if err != nil {
			registry.unregister(fl.info)
			fl.close()
			return nil, err
		}
		hdr.FreeTable = freeListOff
		copy(fl.mapping[:encoding.HeaderSize], encoding.EncodeHeader(hdr, false))
		if err := fl.sync(); err != nil {
			registry.unregister(fl.info)
			fl.close()
			return nil, err
		}
	}

	fr := newFreeList(fl, freeListOff, locks, opts.Stats)
	hi := newHashIndex(fl, fr, opts.HashFunc, hdr.HashSeed)

	e := &Engine{
		path: path, writable: writable,
		fl: fl, locks: locks, free: fr, hash: hi,
		log: opts.Log, stats: opts.Stats,
	}

	rm := newRecoveryManager(fl, fr,
		func() uint64 { return e.readHeader().Recovery },
		func(off uint64) { e.setHeaderRecovery(off) })
	if writable {
		if err := rm.recover(); err != nil {
			registry.unregister(fl.info)
			fl.close()
			return nil, err
		}
	}

	opts.Log(LogInfo, fmt.Sprintf("opened %s (writable=%v)", path, writable))
	return e, nil
}

func (e *Engine) readHeader() *encoding.Header {
	h, _ := encoding.DecodeHeader(e.fl.mapping[:encoding.HeaderSize], false)
	return h
}

func (e *Engine) setHeaderRecovery(off uint64) {
	h := e.readHeader()
	h.Recovery = off
	copy(e.fl.mapping[:encoding.HeaderSize], encoding.EncodeHeader(h, false))
}

func (e *Engine) bumpSeqNum() {
	h := e.readHeader()
	h.SeqNum++
	copy(e.fl.mapping[:encoding.HeaderSize], encoding.EncodeHeader(h, false))
}

// SeqNum returns the header's current sequence number, bumped on every
// committed transaction (SPEC_FULL.md §C.2).
func (e *Engine) SeqNum() uint64 {
	return e.readHeader().SeqNum
}

// Stats returns a snapshot of this engine's allocation/commit/lock counters.
func (e *Engine) Stats() Stats {
	return e.stats.Snapshot()
}

// Close releases this Engine's resources: the byte-range lock table entry,
// the memory mapping, and the open-file registry claim.
func (e *Engine) Close() error {
	registry.unregister(e.fl.info)
	return e.fl.close()
}

// bootstrapFreeList carves the free-list header record out of a brand new
// file, placing it immediately after the page-aligned file header. The rest
// of the grown page becomes the first free record, so records tile the file
// from the header to its end.
func bootstrapFreeList(fl *file) (uint64, error) {
	off := uint64(encoding.HeaderSize)
	need := int64(off) + encoding.RecordHeaderSize + freeListHeaderSize
	if need > int64(len(fl.mapping)) {
		rounded := need
		if rem := rounded % encoding.PageSize; rem != 0 {
			rounded += encoding.PageSize - rem
		}
		if err := fl.grow(rounded); err != nil {
			return 0, err
		}
	}
	rh := encoding.RecordHeader{Flags: encoding.FlagFreeTable, DataLength: freeListHeaderSize}
	copy(fl.mapping[off:off+encoding.RecordHeaderSize], encoding.EncodeRecordHeader(rh, false))
	tableEnd := off + encoding.RecordHeaderSize + freeListHeaderSize
	if tail := uint64(len(fl.mapping)) - tableEnd; tail >= minRecordSize {
		newFreeList(fl, off+encoding.RecordHeaderSize, nil, nil).insertFree(tableEnd, tail, encoding.FlagFree)
	}
	return off + encoding.RecordHeaderSize, nil
}

// hashTestValue is the fixed value stored alongside the seed at creation
// time and re-derived, with the configured hash function, at every Open:
// it catches both a file truncated/corrupted in a way that leaves the
// magic intact, and an Open with a different WithHashFunc than the one the
// file was created with, since either produces a mismatching value here
// (§3 invariant 4, §6 "Environment").
func hashTestValue(hash HashFunc, seed uint64) uint64 {
	return hash(seed, []byte("tdb-hash-self-test"))
}

// noopCtx is a minimal context.Context used for the handful of lock calls
// made during Open, before any caller-supplied context exists.
type noopCtx struct{}

func (noopCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (noopCtx) Done() <-chan struct{}       { return nil }
func (noopCtx) Err() error                  { return nil }
func (noopCtx) Value(key any) any           { return nil }

var _ context.Context = noopCtx{}
