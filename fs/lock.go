package fs

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sys/unix"
)

// Lock regions partition the file's byte-range lock space so that
// operations touching different subsystems never contend on the same byte,
// following tdb2's fixed lock ordering (§2 "Lock manager", §7). All offsets
// are virtual lock-space offsets, not file offsets: flock/fcntl only cares
// about the (fd, offset, length) triple matching between cooperating
// processes, not about what's actually stored there.
const (
	lockOpen          int64 = 0 // held briefly during Open's header read and hash self-test
	lockTransaction    int64 = 1 // held for the duration of one writer's commit
	lockAllRecords     int64 = 2 // held shared by Check/Traverse; writers do not take it
	lockFreeListBase   int64 = 16
	lockHashBucketBase int64 = 1 << 20 // one byte per top-level hash bucket, sparse

	lockRegionFreeList = 1
	lockRegionHashBkt  = 1
)

// LockKind distinguishes shared (read) from exclusive (write) byte-range
// locks, mapping directly onto fcntl's F_RDLCK/F_WRLCK.
type LockKind int

const (
	LockShared LockKind = iota
	LockExclusive
)

// LockManager acquires and releases advisory byte-range locks on the
// database file's descriptor (§7). All locking is per (fd, offset, length);
// within one process, the file's single *os.File descriptor is shared
// across every LockManager call so that flock/fcntl semantics apply
// correctly (unlike flock(2), fcntl byte-range locks are process-scoped and
// would otherwise be silently released by any close of a duplicate fd).
type LockManager struct {
	fd int
}

func newLockManager(fd int) *LockManager {
	return &LockManager{fd: fd}
}

// lockRange blocks (or, if block is false, fails fast with EAGAIN) trying
// to acquire a byte-range lock of the given kind over [offset, offset+length).
func (lm *LockManager) lockRange(ctx context.Context, kind LockKind, offset, length int64, block bool) error {
	typ := int16(unix.F_RDLCK)
	if kind == LockExclusive {
		typ = unix.F_WRLCK
	}
	spec := &unix.Flock_t{
		Type:   typ,
		Whence: 0,
		Start:  offset,
		Len:    length,
	}
	cmd := unix.F_SETLK
	if block {
		cmd = unix.F_SETLKW
	}

	op := func(ctx context.Context) error {
		err := unix.FcntlFlock(uintptr(lm.fd), cmd, spec)
		if err == nil {
			return nil
		}
		if block {
			// F_SETLKW already blocks in-kernel; any error here is real.
			return fmt.Errorf("fs: lock [%d,%d): %w", offset, offset+length, err)
		}
		if err == unix.EAGAIN || err == unix.EACCES {
			return retry.RetryableError(fmt.Errorf("fs: lock [%d,%d) busy: %w", offset, offset+length, err))
		}
		return fmt.Errorf("fs: lock [%d,%d): %w", offset, offset+length, err)
	}

	if block {
		return op(ctx)
	}

	b := retry.WithMaxRetries(8, retry.NewFibonacci(2*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil {
			jitterSleep()
		}
		return err
	})
}

// unlockRange releases a previously acquired byte-range lock.
func (lm *LockManager) unlockRange(offset, length int64) error {
	spec := &unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  offset,
		Len:    length,
	}
	if err := unix.FcntlFlock(uintptr(lm.fd), unix.F_SETLK, spec); err != nil {
		return fmt.Errorf("fs: unlock [%d,%d): %w", offset, offset+length, err)
	}
	return nil
}

// LockOpen guards the brief window in Open where the header is read and
// validated (§7); it is always acquired before any other lock, and always
// released before returning from Open.
func (lm *LockManager) LockOpen(ctx context.Context, kind LockKind) error {
	return lm.lockRange(ctx, kind, lockOpen, 1, true)
}

func (lm *LockManager) UnlockOpen() error {
	return lm.unlockRange(lockOpen, 1)
}

// LockTransaction serializes writers: only one transaction may be
// mid-commit at a time, though readers never take this lock (§7).
func (lm *LockManager) LockTransaction(ctx context.Context, block bool) error {
	return lm.lockRange(ctx, LockExclusive, lockTransaction, 1, block)
}

func (lm *LockManager) UnlockTransaction() error {
	return lm.unlockRange(lockTransaction, 1)
}

// LockAllRecords takes the all-records lock byte, used (shared) by Check
// and Traverse (§4.7 "traverse"). The write path never takes this lock, so
// holding it does not keep writers out.
func (lm *LockManager) LockAllRecords(ctx context.Context, kind LockKind) error {
	return lm.lockRange(ctx, kind, lockAllRecords, 1, true)
}

func (lm *LockManager) UnlockAllRecords() error {
	return lm.unlockRange(lockAllRecords, 1)
}

// LockHashBucket locks the single byte representing top-level hash bucket
// index's slot, the finest granularity at which two writers touching
// different parts of the trie can proceed without contending (§7).
func (lm *LockManager) LockHashBucket(ctx context.Context, index uint64, kind LockKind, block bool) error {
	return lm.lockRange(ctx, kind, lockHashBucketBase+int64(index), lockRegionHashBkt, block)
}

func (lm *LockManager) UnlockHashBucket(index uint64) error {
	return lm.unlockRange(lockHashBucketBase+int64(index), lockRegionHashBkt)
}

// LockFreeList locks the free-list bin identified by binIndex so concurrent
// allocators don't race popping the same free record (§7).
func (lm *LockManager) LockFreeList(ctx context.Context, binIndex int, block bool) error {
	return lm.lockRange(ctx, LockExclusive, lockFreeListBase+int64(binIndex), lockRegionFreeList, block)
}

func (lm *LockManager) UnlockFreeList(binIndex int) error {
	return lm.unlockRange(lockFreeListBase+int64(binIndex), lockRegionFreeList)
}

func jitterSleep() {
	time.Sleep(time.Duration(rand.Intn(4)+1) * time.Millisecond)
}
