package tdb_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localkv/tdb"
)

func TestErrorCodeStrings(t *testing.T) {
	cases := map[tdb.ErrorCode]string{
		tdb.Success:  "success",
		tdb.Corrupt:  "corrupt",
		tdb.IO:       "io",
		tdb.Lock:     "lock",
		tdb.OOM:      "oom",
		tdb.Exists:   "exists",
		tdb.EINVAL:   "einval",
		tdb.NoExist:  "no-exist",
		tdb.ReadOnly: "read-only",
	}
	for code, want := range cases {
		require.Equal(t, want, code.String())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(tdb.Error{Code: tdb.IO, Err: cause})
	require.ErrorIs(t, err, cause)
}

func TestErrorMessageOmitsNilContext(t *testing.T) {
	err := tdb.Error{Code: tdb.NoExist, Err: errors.New("missing")}
	require.NotContains(t, err.Error(), "context")
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := tdb.Error{Code: tdb.NoExist, Err: errors.New("missing"), UserData: []byte("mykey")}
	require.Contains(t, err.Error(), "context")
	require.Contains(t, err.Error(), fmt.Sprintf("%v", []byte("mykey")))
}
