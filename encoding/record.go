package encoding

// RecordHeaderSize is the fixed, bit-packed header prepended to every
// record in the file (§3 "Record layout"). The flags byte, the 32-bit hash
// prefix and the 32-bit extra length fall on byte boundaries; the 20-bit key
// length and 36-bit data length do not, which is why encode/decode goes
// through the bit-level getBits/setBits helpers rather than a struct cast.
const RecordHeaderSize = 16

const (
	flagsBitOffset  = 0
	flagsBitLength  = 8
	hashBitOffset   = flagsBitOffset + flagsBitLength
	hashBitLength   = 32
	keyLenBitOffset = hashBitOffset + hashBitLength
	keyLenBitLength = 20
	dataLenBitOffset = keyLenBitOffset + keyLenBitLength
	dataLenBitLength = 36
	extraBitOffset  = dataLenBitOffset + dataLenBitLength
	extraBitLength  = 32
)

// Record flag bits, packed into the header's leading byte.
const (
	FlagUsed      uint64 = 0 // the zero value: a live key/value record
	FlagFree      uint64 = 1 << 0
	FlagSubgroup  uint64 = 1 << 1
	FlagFreeTable uint64 = 1 << 2
	FlagRecovery  uint64 = 1 << 3
	FlagCoalesced uint64 = 1 << 4 // free record merged with a physically adjacent one
)

// MaxKeyLength and MaxDataLength bound what the packed header can address.
const (
	MaxKeyLength  = 1<<keyLenBitLength - 1
	MaxDataLength = 1<<dataLenBitLength - 1
)

// RecordHeader is the in-memory form of a record's 16-byte on-disk header.
// HashPrefix has room for the top 32 bits of the record's full key hash. The
// fs engine writes 0 here, and hash-index lookup compares the stored key
// bytes without reading this field.
type RecordHeader struct {
	Flags      uint64
	HashPrefix uint32
	KeyLength  uint32
	DataLength uint64
	// ExtraLength is the unused padding past DataLength within the record's
	// allocated slot, the gap Store/Delete coalescing and over-allocation
	// leave behind (§3 "free-space manager" rounding behavior).
	ExtraLength uint32
}

func (h RecordHeader) IsFree() bool      { return h.Flags&FlagFree != 0 }
func (h RecordHeader) IsSubgroup() bool  { return h.Flags&FlagSubgroup != 0 }
func (h RecordHeader) IsFreeTable() bool { return h.Flags&FlagFreeTable != 0 }
func (h RecordHeader) IsRecovery() bool  { return h.Flags&FlagRecovery != 0 }

// AllocatedLength is the total size occupied by the record's header, key,
// data, and trailing padding, i.e. the quantity the free-space manager must
// track and coalesce (§3).
func (h RecordHeader) AllocatedLength() uint64 {
	return RecordHeaderSize + uint64(h.KeyLength) + h.DataLength + uint64(h.ExtraLength)
}

// EncodeRecordHeader packs h into a RecordHeaderSize buffer. swap byte-swaps
// the two 32-bit fields (hash prefix and extra length); the flags byte and
// the 20-bit key length and 36-bit data length, which are not whole bytes
// wide, are stored the same way either way.
func EncodeRecordHeader(h RecordHeader, swap bool) []byte {
	buf := make([]byte, RecordHeaderSize)
	hashPrefix := h.HashPrefix
	extraLength := h.ExtraLength
	if swap {
		hashPrefix = swap32(hashPrefix)
		extraLength = swap32(extraLength)
	}
	setBits(buf, flagsBitOffset, flagsBitLength, h.Flags)
	setBits(buf, hashBitOffset, hashBitLength, uint64(hashPrefix))
	setBits(buf, keyLenBitOffset, keyLenBitLength, uint64(h.KeyLength))
	setBits(buf, dataLenBitOffset, dataLenBitLength, h.DataLength)
	setBits(buf, extraBitOffset, extraBitLength, uint64(extraLength))
	return buf
}

// DecodeRecordHeader unpacks a RecordHeaderSize buffer.
func DecodeRecordHeader(buf []byte, swap bool) (RecordHeader, error) {
	if len(buf) < RecordHeaderSize {
		return RecordHeader{}, ErrShortBuffer{Want: RecordHeaderSize, Got: len(buf)}
	}
	h := RecordHeader{
		Flags:       getBits(buf, flagsBitOffset, flagsBitLength),
		HashPrefix:  uint32(getBits(buf, hashBitOffset, hashBitLength)),
		KeyLength:   uint32(getBits(buf, keyLenBitOffset, keyLenBitLength)),
		DataLength:  getBits(buf, dataLenBitOffset, dataLenBitLength),
		ExtraLength: uint32(getBits(buf, extraBitOffset, extraBitLength)),
	}
	if swap {
		h.HashPrefix = swap32(h.HashPrefix)
		h.ExtraLength = swap32(h.ExtraLength)
	}
	return h, nil
}
