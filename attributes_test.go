package tdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localkv/tdb"
)

func TestWithStatsTracksAllocations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.tdb")
	stats := &tdb.Stats{}

	db, err := tdb.Open(path, tdb.ForWriting, tdb.WithStats(stats))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Store(context.Background(), []byte("k"), []byte("v"), tdb.Replace))
	snap := db.Stats()
	require.Greater(t, snap.Allocs, uint64(0))
	require.Greater(t, snap.Commits, uint64(0))
}

func TestWithSeedDeterminesLayout(t *testing.T) {
	pathA := filepath.Join(t.TempDir(), "seeded-a.tdb")
	pathB := filepath.Join(t.TempDir(), "seeded-b.tdb")

	dbA, err := tdb.Open(pathA, tdb.ForWriting, tdb.WithSeed(12345))
	require.NoError(t, err)
	defer dbA.Close()
	dbB, err := tdb.Open(pathB, tdb.ForWriting, tdb.WithSeed(12345))
	require.NoError(t, err)
	defer dbB.Close()

	ctx := context.Background()
	require.NoError(t, dbA.Store(ctx, []byte("k"), []byte("v"), tdb.Replace))
	require.NoError(t, dbB.Store(ctx, []byte("k"), []byte("v"), tdb.Replace))

	va, err := dbA.Fetch(ctx, []byte("k"))
	require.NoError(t, err)
	vb, err := dbB.Fetch(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, va, vb)
}
