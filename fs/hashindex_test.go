package fs

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHashIndexSplitsOnCollision forces two keys into the same top-level
// bucket by overriding the hash function to return a constant, so insert
// must split into a subgroup rather than overwriting the first key.
func TestHashIndexSplitsOnCollision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collide.tdb")
	constHash := HashFunc(func(seed uint64, key []byte) uint64 {
		// Vary only in the low bits consumed after the first subgroup
		// split, so the top-level and first subgroup index collide but
		// the keys still end up in different slots eventually.
		var h uint64
		for _, b := range key {
			h = h*131 + uint64(b)
		}
		return h & 0x000000000000ffff
	})
	e, err := Open(path, true, true, Options{HashFunc: constHash})
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		require.NoError(t, e.Store(ctx, k, []byte("v"), ModeReplace))
	}
	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		v, err := e.Fetch(ctx, k)
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	}
	require.NoError(t, e.Check(ctx))
}

// TestHashIndexDeleteCollapsesSubgroup stores enough colliding keys to force
// a subgroup split, deletes all but one, and checks that Check still passes
// (confirms the collapse-on-singleton path leaves the trie consistent).
func TestHashIndexDeleteCollapsesSubgroup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collapse.tdb")
	sameTop := HashFunc(func(seed uint64, key []byte) uint64 {
		// Shifting right by 9 zeroes the bits that pick the top-level
		// slot, so every key lands in slot 0 and the second one stored
		// splits it into a subgroup.
		var h uint64
		for _, b := range key {
			h = h*131 + uint64(b)
		}
		return (h * 0x9e3779b97f4a7c15) >> 9
	})
	e, err := Open(path, true, true, Options{HashFunc: sameTop})
	require.NoError(t, err)
	defer e.Close()
	ctx := context.Background()

	keys := make([][]byte, 20)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("collapse-%d", i))
		require.NoError(t, e.Store(ctx, keys[i], []byte("v"), ModeReplace))
	}
	for i := 1; i < len(keys); i++ {
		require.NoError(t, e.Delete(ctx, keys[i]))
	}
	v, err := e.Fetch(ctx, keys[0])
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
	require.NoError(t, e.Check(ctx))
}

func TestHashIndexLookupMissing(t *testing.T) {
	e := openTestEngine(t, true)
	_, found, err := e.hash.lookup([]byte("nope"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestHashIndexInsertDuplicateRejected(t *testing.T) {
	e := openTestEngine(t, true)
	ctx := context.Background()
	require.NoError(t, e.Store(ctx, []byte("dup"), []byte("v1"), ModeReplace))

	off, found, err := e.hash.lookup([]byte("dup"))
	require.NoError(t, err)
	require.True(t, found)

	err = e.hash.insert([]byte("dup"), off+8)
	require.ErrorIs(t, err, errExists)
}
