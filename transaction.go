package tdb

import (
	"context"
	"fmt"
	log "log/slog"
	"time"
)

// TransactionMode controls what a transaction is permitted to do, mirroring
// the read/write distinction the file's O_ACCMODE-derived lock footprint
// depends on (§7).
type TransactionMode int

const (
	// ForReading allows Fetch/Traverse/Check only; no write locks are taken.
	ForReading TransactionMode = iota
	// ForWriting allows Store/Append/Delete in addition to reads, and
	// participates in the write-ahead recovery protocol on commit.
	ForWriting
)

// Transaction is the end-user-facing handle returned by the database's
// transactional operations (§4.7). A single mutating call (Store, Append,
// Delete) implicitly runs its own one-operation transaction unless the
// caller explicitly groups several calls inside Begin/Commit.
type Transaction interface {
	Begin() error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	HasBegun() bool

	// GetPhasedTransaction exposes the underlying two-phase commit object,
	// for callers that need to interleave this transaction's Phase1/Phase2
	// boundaries with some other resource's own commit protocol.
	GetPhasedTransaction() TwoPhaseCommitTransaction

	GetID() SessionID
	Close() error
}

// TwoPhaseCommitTransaction is the infrastructure-facing protocol the fs
// engine implements (§2 "Transaction & recovery"). Phase1Commit stages the
// recovery record (the write-ahead log entry describing every changed
// region's before-image) and fsyncs it; Phase2Commit applies the staged
// writes in place and clears the recovery record. A crash between the two
// phases is recoverable on the next Open because the recovery record alone
// is enough to replay or discard the in-flight change (§2, §8).
type TwoPhaseCommitTransaction interface {
	Begin() error
	Phase1Commit(ctx context.Context) error
	Phase2Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	HasBegun() bool
	GetMode() TransactionMode
	GetID() SessionID
	Close() error
}

type singlePhaseTransaction struct {
	inner   TwoPhaseCommitTransaction
	maxTime time.Duration
}

// NewTransaction wraps a TwoPhaseCommitTransaction implementation (normally
// one built by the fs engine around an open database handle) in the
// simpler, single-call Commit/Rollback surface most embedders want.
// maxTime is the timeout of the context Commit passes to Phase1Commit and
// Phase2Commit; -1 selects a 15 second default, appropriate for a local
// file rather than the teacher's distributed-store default of 15 minutes.
// The fs engine's phases do not consult that context, so the timeout does
// not interrupt a commit in progress.
func NewTransaction(inner TwoPhaseCommitTransaction, maxTime time.Duration) (Transaction, error) {
	if maxTime == -1 {
		maxTime = 15 * time.Second
	}
	return &singlePhaseTransaction{inner: inner, maxTime: maxTime}, nil
}

func (t *singlePhaseTransaction) Begin() error {
	return t.inner.Begin()
}

func (t *singlePhaseTransaction) Close() error {
	return t.inner.Close()
}

func (t *singlePhaseTransaction) Commit(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.maxTime)
	defer cancel()

	if err := t.inner.Phase1Commit(ctx); err != nil {
		log.Debug(fmt.Sprintf("phase1 commit error: %v", err))
		t.Rollback(ctx)
		return err
	}
	if err := t.inner.Phase2Commit(ctx); err != nil {
		log.Debug(fmt.Sprintf("phase2 commit error: %v", err))
		t.Rollback(ctx)
		return err
	}
	return nil
}

func (t *singlePhaseTransaction) Rollback(ctx context.Context) error {
	return t.inner.Rollback(ctx)
}

func (t *singlePhaseTransaction) HasBegun() bool {
	return t.inner.HasBegun()
}

func (t *singlePhaseTransaction) GetPhasedTransaction() TwoPhaseCommitTransaction {
	return t.inner
}

func (t *singlePhaseTransaction) GetID() SessionID {
	return t.inner.GetID()
}
