package tdb

import (
	"context"
	"errors"
	log "log/slog"
	"math/rand"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// jitterRNG is the random source used for lock-retry sleep jitter, seeded
// once at init time. Tests can override it for deterministic timing.
var jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetJitterRNG overrides the RNG used for sleep jitter. Useful for
// deterministic tests.
func SetJitterRNG(r *rand.Rand) {
	if r != nil {
		jitterRNG = r
	}
}

// Sleep blocks for the given duration or until ctx is done, whichever
// happens first.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	<-timer.Done()
}

// RandomSleepWithUnit sleeps for a random multiple (1..4) of unit, for
// jittering competing retries apart. The fs lock manager does not use it;
// it has its own 1-4ms jitter.
func RandomSleepWithUnit(ctx context.Context, unit time.Duration) {
	multiplier := time.Duration(jitterRNG.Intn(4) + 1)
	d := multiplier * unit
	log.Debug("lock retry jitter", "multiplier", multiplier, "unit", unit, "duration", d)
	Sleep(ctx, d)
}

// RandomSleep jitters for between 1 and 4 multiples of 5ms.
func RandomSleep(ctx context.Context) {
	RandomSleepWithUnit(ctx, 5*time.Millisecond)
}

// Retry runs task with Fibonacci backoff, retrying it up to 5 times after
// the first attempt (6 attempts in all), for use around
// syscalls that can fail transiently under contention (a racing writer
// holding a byte-range lock, §7). gaveUpTask, if non-nil, runs once retries
// are exhausted before the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Millisecond)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether err is transient and worth another attempt,
// as opposed to a permanent failure (bad path, permission, corruption).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrExist) {
		return false
	}

	// EAGAIN/EWOULDBLOCK signal a lock held by someone else right now —
	// the one case this engine retries at the syscall layer (§7).
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return true
	}

	switch {
	case errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.ENAMETOOLONG),
		errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.EISDIR),
		errors.Is(err, syscall.ENOTEMPTY),
		errors.Is(err, syscall.EMLINK),
		errors.Is(err, syscall.ELOOP),
		errors.Is(err, syscall.EXDEV),
		errors.Is(err, syscall.EEXIST),
		errors.Is(err, syscall.EINVAL):
		return false
	}

	if strings.Contains(err.Error(), "read-only file system") {
		return false
	}
	return true
}
