package encoding

import "encoding/binary"

const (
	// MagicSize is the fixed width of the file's ASCII marker (§6).
	MagicSize = 32

	// TopGroupBits is the number of hash bits consumed by the root group
	// array stored in the header. 512 slots.
	TopGroupBits = 9
	TopGroupSize = 1 << TopGroupBits

	// SubgroupBits is the number of hash bits consumed per subgroup level.
	// 128 slots, the upper end of the "64 or 128" fanout the spec allows.
	// Changing this is a format-breaking change (§9 open question).
	SubgroupBits = 7
	SubgroupSize = 1 << SubgroupBits

	// PageSize is the page granularity the engine rounds file growth to.
	// The spec requires file size to be a page-size multiple (§3 invariant 6);
	// 4096 is assumed rather than probed from the OS so that files are
	// portable across hosts with different native page sizes.
	PageSize = 4096

	headerFixedSize = MagicSize + 7*8 // magic + 7 uint64 fields
	headerRawSize   = headerFixedSize + TopGroupSize*8
)

// HeaderSize is the fixed size of the file header, rounded up to a page
// boundary so the first record starts on a page-aligned offset.
var HeaderSize = roundUpPage(headerRawSize)

func roundUpPage(n int) int64 {
	if n%PageSize == 0 {
		return int64(n)
	}
	return int64((n/PageSize + 1) * PageSize)
}

// FormatVersion identifies the native-endian on-disk layout described by
// this package. A file whose stored version is the byte-swapped form of
// this constant was written by the opposite-endian variant of the engine;
// VersionNeedsSwap recognises it, but fs.Open decodes every header field
// unswapped and does not call VersionNeedsSwap, so such a file fails Open's
// hash self-test rather than being read.
const FormatVersion uint64 = 0x5444422d474f3031 // "TDB-GO01" as big-endian ASCII bytes

// Header is the in-memory, native-byte-order representation of the file's
// fixed header (§3 "Header").
type Header struct {
	Magic      [MagicSize]byte
	Version    uint64
	HashSeed   uint64
	HashTest   uint64
	FreeTable  uint64 // offset of the initial free-table record
	Recovery   uint64 // offset of the in-progress recovery record, 0 if none
	SeqNum     uint64 // bumped on every committed transaction (§9 open question, resolved)
	TopGroup   [TopGroupSize]uint64
}

// VersionNeedsSwap reports whether the on-disk version field is the byte-swapped
// form of FormatVersion, meaning every other multi-byte field must be
// swapped too. diskVersion is the raw little-endian uint64 read straight
// off disk, unconverted.
func VersionNeedsSwap(diskVersion uint64) (swap bool, ok bool) {
	if diskVersion == FormatVersion {
		return false, true
	}
	if swap64(diskVersion) == FormatVersion {
		return true, true
	}
	return false, false
}

// EncodeHeader serializes h into a HeaderSize-length buffer. When swap is
// true, every multi-byte field is byte-swapped before being written, as
// required when this process is the opposite endianness from the file's
// creator (§4.1).
func EncodeHeader(h *Header, swap bool) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:MagicSize], h.Magic[:])

	put := func(off int, v uint64) {
		if swap {
			v = swap64(v)
		}
		binary.LittleEndian.PutUint64(buf[off:off+8], v)
	}

	off := MagicSize
	put(off, h.Version)
	off += 8
	put(off, h.HashSeed)
	off += 8
	put(off, h.HashTest)
	off += 8
	put(off, h.FreeTable)
	off += 8
	put(off, h.Recovery)
	off += 8
	put(off, h.SeqNum)
	off += 8
	put(off, uint64(TopGroupSize))
	off += 8

	for i := 0; i < TopGroupSize; i++ {
		put(off, h.TopGroup[i])
		off += 8
	}
	return buf
}

// DecodeHeader parses a HeaderSize-length buffer into h. swap must already
// be known (derived from VersionNeedsSwap on the raw version field) before
// calling this, since the version field itself must be read unswapped first.
func DecodeHeader(buf []byte, swap bool) (*Header, error) {
	if len(buf) < int(HeaderSize) {
		return nil, ErrShortBuffer{Want: int(HeaderSize), Got: len(buf)}
	}
	h := &Header{}
	copy(h.Magic[:], buf[0:MagicSize])

	get := func(off int) uint64 {
		v := binary.LittleEndian.Uint64(buf[off : off+8])
		if swap {
			v = swap64(v)
		}
		return v
	}

	off := MagicSize
	h.Version = get(off)
	off += 8
	h.HashSeed = get(off)
	off += 8
	h.HashTest = get(off)
	off += 8
	h.FreeTable = get(off)
	off += 8
	h.Recovery = get(off)
	off += 8
	h.SeqNum = get(off)
	off += 8
	off += 8 // stored top-group count, validated by caller against TopGroupSize

	for i := 0; i < TopGroupSize; i++ {
		h.TopGroup[i] = get(off)
		off += 8
	}
	return h, nil
}

// StoredTopGroupCount reads back the top-group fanout recorded in the
// header, so Open can refuse a file built with an incompatible fanout
// instead of silently misreading its trie (§9 open question on subgroup
// fanout not being forward-compatible).
func StoredTopGroupCount(buf []byte, swap bool) uint64 {
	off := MagicSize + 6*8
	v := binary.LittleEndian.Uint64(buf[off : off+8])
	if swap {
		v = swap64(v)
	}
	return v
}
