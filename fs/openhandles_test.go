package fs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenRejectsSecondOpenInSameProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "double.tdb")

	first, err := Open(path, true, true, Options{})
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(path, true, false, Options{})
	require.Error(t, err)
	var already *ErrAlreadyOpen
	require.ErrorAs(t, err, &already)
}

func TestOpenAllowsReopenAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen2.tdb")

	first, err := Open(path, true, true, Options{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path, true, false, Options{})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
