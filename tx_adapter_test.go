package tdb_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localkv/tdb"
)

func TestBeginTxGroupedCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grouped.tdb")
	db, err := tdb.Open(path, tdb.ForWriting)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	txn, err := db.BeginTx(ctx, tdb.ForWriting)
	require.NoError(t, err)

	require.NoError(t, txn.Store(ctx, []byte("a"), []byte("1"), tdb.Replace))
	require.NoError(t, txn.Store(ctx, []byte("b"), []byte("2"), tdb.Replace))
	require.NoError(t, txn.Delete(ctx, []byte("nonexistent")))

	wrapped, err := tdb.NewTransaction(txn, -1)
	require.NoError(t, err)
	require.NoError(t, wrapped.Commit(ctx))

	va, err := db.Fetch(ctx, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), va)
	vb, err := db.Fetch(ctx, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), vb)
}

func TestBeginTxRollback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollback.tdb")
	db, err := tdb.Open(path, tdb.ForWriting)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	txn, err := db.BeginTx(ctx, tdb.ForWriting)
	require.NoError(t, err)
	require.NoError(t, txn.Store(ctx, []byte("k"), []byte("v"), tdb.Replace))
	require.NoError(t, txn.Rollback(ctx))

	_, err = db.Fetch(ctx, []byte("k"))
	require.Error(t, err)
}

func TestNewTransactionDefaultTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeout.tdb")
	db, err := tdb.Open(path, tdb.ForWriting)
	require.NoError(t, err)
	defer db.Close()

	txn, err := db.BeginTx(context.Background(), tdb.ForWriting)
	require.NoError(t, err)
	wrapped, err := tdb.NewTransaction(txn, -1)
	require.NoError(t, err)
	require.NoError(t, wrapped.Rollback(context.Background()))

	_, err = tdb.NewTransaction(txn, 5*time.Second)
	require.NoError(t, err)
}
