package tdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localkv/tdb"
)

func openTemp(t *testing.T) *tdb.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tdb")
	db, err := tdb.Open(path, tdb.ForWriting)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreFetch(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	require.NoError(t, db.Store(ctx, []byte("alpha"), []byte("one"), tdb.Replace))
	v, err := db.Fetch(ctx, []byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)
}

func TestFetchMissing(t *testing.T) {
	db := openTemp(t)
	_, err := db.Fetch(context.Background(), []byte("missing"))
	require.Error(t, err)
	var e tdb.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, tdb.NoExist, e.Code)
}

func TestOverwrite(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	require.NoError(t, db.Store(ctx, []byte("k"), []byte("first"), tdb.Replace))
	require.NoError(t, db.Store(ctx, []byte("k"), []byte("second"), tdb.Replace))
	v, err := db.Fetch(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("second"), v)
}

func TestAppend(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	require.NoError(t, db.Append(ctx, []byte("log"), []byte("line1;")))
	require.NoError(t, db.Append(ctx, []byte("log"), []byte("line2;")))
	v, err := db.Fetch(ctx, []byte("log"))
	require.NoError(t, err)
	require.Equal(t, []byte("line1;line2;"), v)
}

func TestDelete(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	require.NoError(t, db.Store(ctx, []byte("k"), []byte("v"), tdb.Replace))
	require.NoError(t, db.Delete(ctx, []byte("k")))
	_, err := db.Fetch(ctx, []byte("k"))
	require.Error(t, err)

	// Deleting an absent key is not an error.
	require.NoError(t, db.Delete(ctx, []byte("never-existed")))
}

func TestTraverseAndCheck(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		require.NoError(t, db.Store(ctx, []byte(k), []byte(v), tdb.Replace))
	}

	got := map[string]string{}
	require.NoError(t, db.Traverse(ctx, func(key, value []byte) bool {
		got[string(key)] = string(value)
		return true
	}))
	require.Equal(t, want, got)
	require.NoError(t, db.Check(ctx))
}

func TestSeqNumIncrementsOnCommit(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	before := db.SeqNum()
	require.NoError(t, db.Store(ctx, []byte("k"), []byte("v"), tdb.Replace))
	require.Greater(t, db.SeqNum(), before)
}

func TestManyKeysTriggerSubgroupSplits(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	const n = 300
	for i := 0; i < n; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		require.NoError(t, db.Store(ctx, k, []byte("v"), tdb.Replace))
	}
	for i := 0; i < n; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		v, err := db.Fetch(ctx, k)
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	}
	require.NoError(t, db.Check(ctx))
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.tdb")
	db, err := tdb.Open(path, tdb.ForWriting)
	require.NoError(t, err)
	require.NoError(t, db.Store(context.Background(), []byte("k"), []byte("v"), tdb.Replace))
	require.NoError(t, db.Close())

	ro, err := tdb.Open(path, tdb.ForReading)
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Store(context.Background(), []byte("k2"), []byte("v2"), tdb.Replace)
	require.Error(t, err)
	var e tdb.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, tdb.ReadOnly, e.Code)
}
