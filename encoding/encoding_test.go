package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetSetBits(t *testing.T) {
	buf := make([]byte, 8)
	setBits(buf, 3, 10, 0x2a1)
	require.Equal(t, uint64(0x2a1), getBits(buf, 3, 10))

	// Bits outside the written range are untouched.
	setBits(buf, 20, 4, 0xf)
	require.Equal(t, uint64(0x2a1), getBits(buf, 3, 10))
	require.Equal(t, uint64(0xf), getBits(buf, 20, 4))
}

func TestSwap64(t *testing.T) {
	require.Equal(t, uint64(0x0807060504030201), swap64(0x0102030405060708))
	require.Equal(t, uint64(0x0102030405060708), swap64(swap64(0x0102030405060708)))
}

func TestSwap32(t *testing.T) {
	require.Equal(t, uint32(0x04030201), swap32(0x01020304))
}

func TestEncodeDecodeUint64(t *testing.T) {
	buf := make([]byte, 8)
	EncodeUint64(buf, 0x1122334455667788)
	require.Equal(t, uint64(0x1122334455667788), DecodeUint64(buf))
}
