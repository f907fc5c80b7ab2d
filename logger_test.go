package tdb_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localkv/tdb"
)

func TestWithLogSinkReceivesOpenMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logged.tdb")

	var mu sync.Mutex
	var lines []string
	sink := func(level tdb.Level, msg string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, msg)
	}

	db, err := tdb.Open(path, tdb.ForWriting, tdb.WithLogSink(sink))
	require.NoError(t, err)
	defer db.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lines)
	require.True(t, strings.Contains(lines[0], db.GetID().String()))
}

func TestSessionIDsDifferPerOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.tdb")
	db1, err := tdb.Open(path, tdb.ForWriting)
	require.NoError(t, err)
	defer db1.Close()

	db2, err := tdb.Open(path+"-2", tdb.ForWriting)
	require.NoError(t, err)
	defer db2.Close()

	require.NotEqual(t, db1.GetID(), db2.GetID())
	require.False(t, db1.GetID().IsNil())
}

func TestBeginTxRequiresWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readonly-begin.tdb")
	db, err := tdb.Open(path, tdb.ForWriting)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := tdb.Open(path, tdb.ForReading)
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.BeginTx(context.Background(), tdb.ForWriting)
	require.Error(t, err)
}
