package fs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localkv/tdb/encoding"
)

func TestFreeListAllocReuse(t *testing.T) {
	e := openTestEngine(t, true)
	fl := e.free

	off1, _, err := fl.alloc(64, false)
	require.NoError(t, err)

	rh := encoding.RecordHeader{Flags: encoding.FlagUsed, DataLength: 64 - encoding.RecordHeaderSize}
	fl.free(off1, rh)

	off2, _, err := fl.alloc(64, false)
	require.NoError(t, err)
	require.Equal(t, off1, off2, "a same-size alloc right after free should reuse the freed slot")
}

func TestFreeListBinFor(t *testing.T) {
	require.Equal(t, binFor(1), binFor(1))
	require.Less(t, binFor(16), binFor(1<<20))
	require.Equal(t, freeListBinCount-1, binFor(1<<40))
}

func TestFreeListExtendsFileOnExhaustion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extend.tdb")
	e, err := Open(path, true, true, Options{})
	require.NoError(t, err)
	defer e.Close()

	before := e.Stats().Expansions
	_, _, err = e.free.alloc(uint64(len(e.fl.mapping))*2, false)
	require.NoError(t, err)
	require.Greater(t, e.Stats().Expansions, before)
}
