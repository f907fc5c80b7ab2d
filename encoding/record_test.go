package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordHeaderRoundTrip(t *testing.T) {
	rh := RecordHeader{
		Flags:       FlagUsed,
		HashPrefix:  0xabcdef01,
		KeyLength:   37,
		DataLength:  123456,
		ExtraLength: 9,
	}
	buf := EncodeRecordHeader(rh, false)
	require.Len(t, buf, RecordHeaderSize)

	got, err := DecodeRecordHeader(buf, false)
	require.NoError(t, err)
	require.Equal(t, rh, got)
	require.Equal(t, uint64(RecordHeaderSize+37+123456+9), got.AllocatedLength())
}

func TestRecordHeaderFlags(t *testing.T) {
	cases := []struct {
		flag  uint64
		check func(RecordHeader) bool
	}{
		{FlagFree, RecordHeader.IsFree},
		{FlagSubgroup, RecordHeader.IsSubgroup},
		{FlagFreeTable, RecordHeader.IsFreeTable},
		{FlagRecovery, RecordHeader.IsRecovery},
	}
	for _, c := range cases {
		rh := RecordHeader{Flags: c.flag}
		require.True(t, c.check(rh))
	}
	require.False(t, RecordHeader{Flags: FlagUsed}.IsFree())
}

func TestRecordHeaderSwap(t *testing.T) {
	rh := RecordHeader{HashPrefix: 1, KeyLength: 2, DataLength: 3, ExtraLength: 4}
	buf := EncodeRecordHeader(rh, true)
	got, err := DecodeRecordHeader(buf, true)
	require.NoError(t, err)
	require.Equal(t, rh, got)
}

func TestDecodeRecordHeaderShortBuffer(t *testing.T) {
	_, err := DecodeRecordHeader(make([]byte, 4), false)
	require.Error(t, err)
}
