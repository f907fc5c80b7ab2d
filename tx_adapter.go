package tdb

import (
	"context"

	"github.com/localkv/tdb/fs"
)

// fsTwoPhase adapts an *fs.Txn to the TwoPhaseCommitTransaction interface,
// letting embedders group several Store/Delete calls into one
// crash-safe commit via BeginTx/NewTransaction (§2 "Transaction &
// recovery"), the grouped counterpart to the single-call auto-transactions
// DB.Store/DB.Delete already run.
type fsTwoPhase struct {
	db   *DB
	txn  *fs.Txn
	mode TransactionMode
}

// BeginTx starts an explicit write transaction against db. Use its Store/
// Delete methods to stage mutations, then wrap the result in NewTransaction
// (or call its TwoPhaseCommitTransaction methods directly) to commit them
// all atomically.
func (db *DB) BeginTx(ctx context.Context, mode TransactionMode) (*fsTwoPhase, error) {
	fm := fs.ForReading
	if mode == ForWriting {
		fm = fs.ForWriting
	}
	t, err := db.engine.Begin(ctx, fm)
	if err != nil {
		return nil, newError(Lock, err)
	}
	return &fsTwoPhase{db: db, txn: t, mode: mode}, nil
}

// Store stages key/value within this transaction under mode's
// precondition.
func (p *fsTwoPhase) Store(ctx context.Context, key, value []byte, mode StoreMode) error {
	if err := p.db.engine.StoreIn(ctx, p.txn, key, value, mode); err != nil {
		return wrapOpError(err, key)
	}
	return nil
}

// Delete stages key's removal within this transaction.
func (p *fsTwoPhase) Delete(ctx context.Context, key []byte) error {
	if err := p.db.engine.DeleteIn(ctx, p.txn, key); err != nil {
		return wrapOpError(err, key)
	}
	return nil
}

func (p *fsTwoPhase) Begin() error { return nil } // the underlying fs.Txn already began in BeginTx

func (p *fsTwoPhase) Phase1Commit(ctx context.Context) error {
	if err := p.txn.Phase1Commit(ctx); err != nil {
		return newError(IO, err)
	}
	return nil
}

func (p *fsTwoPhase) Phase2Commit(ctx context.Context) error {
	if err := p.txn.Phase2Commit(ctx); err != nil {
		return newError(IO, err)
	}
	return nil
}

func (p *fsTwoPhase) Rollback(ctx context.Context) error {
	if err := p.txn.Rollback(ctx); err != nil {
		return newError(IO, err)
	}
	return nil
}

func (p *fsTwoPhase) HasBegun() bool { return p.txn.HasBegun() }

func (p *fsTwoPhase) GetMode() TransactionMode { return p.mode }

func (p *fsTwoPhase) GetID() SessionID { return p.db.id }

func (p *fsTwoPhase) Close() error { return p.txn.Close() }

var _ TwoPhaseCommitTransaction = (*fsTwoPhase)(nil)
