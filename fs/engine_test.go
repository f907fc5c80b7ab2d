package fs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T, writable bool) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tdb")
	e, err := Open(path, writable, true, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineStoreFetchDelete(t *testing.T) {
	e := openTestEngine(t, true)
	ctx := context.Background()

	require.NoError(t, e.Store(ctx, []byte("k1"), []byte("v1"), ModeReplace))
	v, err := e.Fetch(ctx, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, e.Delete(ctx, []byte("k1")))
	_, err = e.Fetch(ctx, []byte("k1"))
	require.ErrorIs(t, err, errNoExist)
}

func TestEngineReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.tdb")
	ctx := context.Background()

	e, err := Open(path, true, true, Options{})
	require.NoError(t, err)
	require.NoError(t, e.Store(ctx, []byte("persist"), []byte("me"), ModeReplace))
	seq := e.SeqNum()
	require.NoError(t, e.Close())

	e2, err := Open(path, true, false, Options{})
	require.NoError(t, err)
	defer e2.Close()

	v, err := e2.Fetch(ctx, []byte("persist"))
	require.NoError(t, err)
	require.Equal(t, []byte("me"), v)
	require.Equal(t, seq, e2.SeqNum())
}

func TestEngineReadOnlyRejectsStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.tdb")
	ctx := context.Background()

	e, err := Open(path, true, true, Options{})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	ro, err := Open(path, false, false, Options{})
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Store(ctx, []byte("k"), []byte("v"), ModeReplace)
	require.ErrorIs(t, err, errReadOnly)
}

func TestEngineGroupedTransaction(t *testing.T) {
	e := openTestEngine(t, true)
	ctx := context.Background()

	txn, err := e.Begin(ctx, ForWriting)
	require.NoError(t, err)
	require.NoError(t, e.StoreIn(ctx, txn, []byte("a"), []byte("1"), ModeReplace))
	require.NoError(t, e.StoreIn(ctx, txn, []byte("b"), []byte("2"), ModeReplace))
	require.NoError(t, txn.Phase1Commit(ctx))
	require.NoError(t, txn.Phase2Commit(ctx))

	va, err := e.Fetch(ctx, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), va)
	vb, err := e.Fetch(ctx, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), vb)
}

func TestEngineCheckAndTraverse(t *testing.T) {
	e := openTestEngine(t, true)
	ctx := context.Background()

	want := map[string]string{"x": "1", "y": "2", "z": "3"}
	for k, v := range want {
		require.NoError(t, e.Store(ctx, []byte(k), []byte(v), ModeReplace))
	}

	got := map[string]string{}
	require.NoError(t, e.Traverse(ctx, func(key, value []byte) bool {
		got[string(key)] = string(value)
		return true
	}))
	require.Equal(t, want, got)
	require.NoError(t, e.Check(ctx))
}

func TestEngineFileExpandsUnderLoad(t *testing.T) {
	e := openTestEngine(t, true)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		k := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		require.NoError(t, e.Store(ctx, k, make([]byte, 64), ModeReplace))
	}
	require.NoError(t, e.Check(ctx))
	require.Greater(t, e.Stats().Expansions, uint64(0))
}
