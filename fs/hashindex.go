package fs

import (
	"bytes"

	"github.com/localkv/tdb/encoding"
)

// Slot values in the top-level group array and in every subgroup are
// tagged uint64s: 0 means empty, bit0 set means "subgroup record offset"
// (mask off bit0 to get the real offset), and bit0 clear on a nonzero value
// means "direct record offset". This costs nothing because the allocator
// always returns offsets rounded up to an 8-byte boundary, so a real
// record's offset never has bit0 set on its own (§4.4 "hash index").
const subgroupTagBit = 1

func isSubgroupSlot(slot uint64) bool { return slot != 0 && slot&subgroupTagBit != 0 }
func subgroupOffset(slot uint64) uint64 { return slot &^ subgroupTagBit }
func tagSubgroup(off uint64) uint64      { return off | subgroupTagBit }

const subgroupBodySize = encoding.SubgroupSize * 8

// hashIndex implements the top-group + expanding-subgroup trie described in
// §4.4. It reads and writes slots directly in the mmap'd file; callers are
// responsible for holding the hash-bucket lock appropriate to the top-level
// index being touched before calling any method here.
type hashIndex struct {
	fl   *file
	fr   *freeList
	hash HashFunc
	seed uint64
}

func newHashIndex(fl *file, fr *freeList, hash HashFunc, seed uint64) *hashIndex {
	return &hashIndex{fl: fl, fr: fr, hash: hash, seed: seed}
}

func (hi *hashIndex) header() *encoding.Header {
	h, _ := encoding.DecodeHeader(hi.fl.mapping[:encoding.HeaderSize], false)
	return h
}

func (hi *hashIndex) writeTopSlot(idx uint64, slot uint64) {
	off := topGroupSlotOffset(idx)
	encoding.EncodeUint64(hi.fl.mapping[off:off+8], slot)
}

func topGroupSlotOffset(idx uint64) uint64 {
	// Mirrors the field order EncodeHeader/DecodeHeader write: magic + 7
	// uint64 fixed fields precede the TopGroup array.
	const fixedFieldsBeforeArray = encoding.MagicSize + 7*8
	return uint64(fixedFieldsBeforeArray) + idx*8
}

func (hi *hashIndex) readSubgroupSlot(subOff uint64, idx uint64) uint64 {
	base := subOff + encoding.RecordHeaderSize + idx*8
	return encoding.DecodeUint64(hi.fl.mapping[base : base+8])
}

func (hi *hashIndex) writeSubgroupSlot(subOff uint64, idx uint64, slot uint64) {
	base := subOff + encoding.RecordHeaderSize + idx*8
	encoding.EncodeUint64(hi.fl.mapping[base:base+8], slot)
}

// descendPath records a trie descent, one step per level: the slot array
// offset (0 for the top group, meaning "read from the header" instead) and
// the index within it.
type descendPath struct {
	// steps[i].subOff == 0 means the top-level group (read via the header);
	// otherwise it's the subgroup record's offset. idx is always the slot
	// index used at that step.
	steps []struct {
		subOff uint64
		idx    uint64
	}
}

// nextIndex returns the next fanout-bits slice of hash, rehashing hash
// itself once every bit has been consumed. A trie this deep only happens
// under pathological hash collision; rehashing here (rather than failing)
// matches tdb2's practice of never refusing to store a key purely because
// one hash function ran out of entropy.
func nextIndex(hash *uint64, bitsConsumed *int, bits int) uint64 {
	if *bitsConsumed+bits > 64 {
		*hash = seededXXHash(*hash, []byte{byte(*bitsConsumed)})
		*bitsConsumed = 0
	}
	shift := 64 - *bitsConsumed - bits
	idx := (*hash >> uint(shift)) & (1<<uint(bits) - 1)
	*bitsConsumed += bits
	return idx
}

// topIndexFor returns the top-level group slot index key hashes to, used
// by the engine to pick which hash-bucket lock to take before descending
// (§7). It deliberately only consumes the top-level bits: the lock
// granularity this package offers is per top-level bucket, not per
// subgroup, since subgroups only exist once a bucket is already hot.
func (hi *hashIndex) topIndexFor(key []byte) uint64 {
	hash := hi.hash(hi.seed, key)
	bitsConsumed := 0
	return nextIndex(&hash, &bitsConsumed, encoding.TopGroupBits)
}

// lookup finds the record offset for key, or ok=false if absent.
func (hi *hashIndex) lookup(key []byte) (off uint64, ok bool, err error) {
	hash := hi.hash(hi.seed, key)
	bitsConsumed := 0
	topIdx := nextIndex(&hash, &bitsConsumed, encoding.TopGroupBits)
	slot := hi.header().TopGroup[topIdx]

	for {
		if slot == 0 {
			return 0, false, nil
		}
		if isSubgroupSlot(slot) {
			subOff := subgroupOffset(slot)
			idx := nextIndex(&hash, &bitsConsumed, encoding.SubgroupBits)
			slot = hi.readSubgroupSlot(subOff, idx)
			continue
		}
		rh, err := hi.fr.readRecordHeader(slot)
		if err != nil {
			return 0, false, err
		}
		storedKey := hi.fl.mapping[slot+encoding.RecordHeaderSize : slot+encoding.RecordHeaderSize+uint64(rh.KeyLength)]
		if bytes.Equal(storedKey, key) {
			return slot, true, nil
		}
		return 0, false, nil
	}
}

// insert places a newly allocated record (already written at newOff with
// its header/key filled in) into the trie, splitting a colliding slot into
// a fresh subgroup as many times as needed (§4.4). The caller has already
// verified key doesn't already exist (or intends to overwrite in place,
// handled by the engine calling delete first).
func (hi *hashIndex) insert(key []byte, newOff uint64) error {
	hash := hi.hash(hi.seed, key)
	bitsConsumed := 0
	topIdx := nextIndex(&hash, &bitsConsumed, encoding.TopGroupBits)
	slot := hi.header().TopGroup[topIdx]

	// writeSlot closes over whichever level we're currently positioned at.
	writeSlot := func(v uint64) {
		hi.writeTopSlot(topIdx, v)
	}
	depth := 0 // subgroup levels descended so far

	for {
		if slot == 0 {
			writeSlot(newOff)
			return nil
		}
		if isSubgroupSlot(slot) {
			subOff := subgroupOffset(slot)
			idx := nextIndex(&hash, &bitsConsumed, encoding.SubgroupBits)
			depth++
			innerIdx := idx
			innerSubOff := subOff
			writeSlot = func(v uint64) {
				hi.writeSubgroupSlot(innerSubOff, innerIdx, v)
			}
			slot = hi.readSubgroupSlot(subOff, idx)
			continue
		}

		// slot is a direct record: either the same key (caller's contract
		// says that shouldn't happen) or a collision requiring a split.
		existingOff := slot
		rh, err := hi.fr.readRecordHeader(existingOff)
		if err != nil {
			return err
		}
		existingKey := append([]byte(nil), hi.fl.mapping[existingOff+encoding.RecordHeaderSize:existingOff+encoding.RecordHeaderSize+uint64(rh.KeyLength)]...)
		if bytes.Equal(existingKey, key) {
			return errExists
		}

		subOff, err := hi.newSubgroup()
		if err != nil {
			return err
		}
		writeSlot(tagSubgroup(subOff))

		// Replay the existing key's descent to this level, so any rehash
		// nextIndex applied to hash is applied to existingHash too.
		existingHash := hi.hash(hi.seed, existingKey)
		existingBits := 0
		nextIndex(&existingHash, &existingBits, encoding.TopGroupBits)
		for d := 0; d < depth; d++ {
			nextIndex(&existingHash, &existingBits, encoding.SubgroupBits)
		}
		existingIdx := nextIndex(&existingHash, &existingBits, encoding.SubgroupBits)
		hi.writeSubgroupSlot(subOff, existingIdx, existingOff)

		idx := nextIndex(&hash, &bitsConsumed, encoding.SubgroupBits)
		depth++
		if idx == existingIdx {
			// Still colliding one level down; let the loop split again.
			slot = existingOff
			innerSubOff := subOff
			innerIdx := idx
			writeSlot = func(v uint64) {
				hi.writeSubgroupSlot(innerSubOff, innerIdx, v)
			}
			continue
		}
		hi.writeSubgroupSlot(subOff, idx, newOff)
		return nil
	}
}

// delete removes key's slot from the trie, returning the removed record's
// offset (the engine is responsible for freeing it) and collapsing any
// subgroup whose population drops to nothing, or to exactly one surviving
// direct record, by promoting that record back into the parent slot
// (§4.4 "delete"). A subgroup whose one survivor is itself a subgroup stays.
func (hi *hashIndex) delete(key []byte) (removedOff uint64, ok bool, err error) {
	hash := hi.hash(hi.seed, key)
	bitsConsumed := 0
	topIdx := nextIndex(&hash, &bitsConsumed, encoding.TopGroupBits)
	slot := hi.header().TopGroup[topIdx]

	type frame struct {
		subOff uint64 // 0 for the top level
		idx    uint64
	}
	var path []frame
	path = append(path, frame{subOff: 0, idx: topIdx})

	for {
		if slot == 0 {
			return 0, false, nil
		}
		if isSubgroupSlot(slot) {
			subOff := subgroupOffset(slot)
			idx := nextIndex(&hash, &bitsConsumed, encoding.SubgroupBits)
			path = append(path, frame{subOff: subOff, idx: idx})
			slot = hi.readSubgroupSlot(subOff, idx)
			continue
		}
		rh, err := hi.fr.readRecordHeader(slot)
		if err != nil {
			return 0, false, err
		}
		storedKey := hi.fl.mapping[slot+encoding.RecordHeaderSize : slot+encoding.RecordHeaderSize+uint64(rh.KeyLength)]
		if !bytes.Equal(storedKey, key) {
			return 0, false, nil
		}
		removed := slot

		// Zero the slot that held it.
		last := path[len(path)-1]
		if last.subOff == 0 {
			hi.writeTopSlot(last.idx, 0)
		} else {
			hi.writeSubgroupSlot(last.subOff, last.idx, 0)
		}

		// Walk back up, collapsing any now-singleton subgroup.
		for i := len(path) - 1; i >= 1; i-- {
			parent := path[i]
			if parent.subOff == 0 {
				break
			}
			remaining, onlySlot, count := hi.scanSubgroup(parent.subOff)
			if count > 1 {
				break
			}
			// A lone surviving subgroup is indexed by this level's hash
			// bits, so it cannot move up to the parent's level.
			if count == 1 && isSubgroupSlot(remaining[onlySlot]) {
				break
			}
			grandparent := path[i-1]
			var promote uint64
			if count == 1 {
				promote = remaining[onlySlot]
			}
			if grandparent.subOff == 0 {
				hi.writeTopSlot(grandparent.idx, promote)
			} else {
				hi.writeSubgroupSlot(grandparent.subOff, grandparent.idx, promote)
			}
			if subRh, err := hi.fr.readRecordHeader(parent.subOff); err == nil {
				hi.fr.free(parent.subOff, subRh)
			}
		}
		return removed, true, nil
	}
}

// scanSubgroup returns the subgroup's slot contents, plus which index holds
// the sole surviving non-empty slot when exactly one remains.
func (hi *hashIndex) scanSubgroup(subOff uint64) (slots map[uint64]uint64, onlyIdx uint64, count int) {
	slots = make(map[uint64]uint64, 2)
	for i := uint64(0); i < encoding.SubgroupSize; i++ {
		v := hi.readSubgroupSlot(subOff, i)
		if v != 0 {
			slots[i] = v
			onlyIdx = i
			count++
		}
	}
	return slots, onlyIdx, count
}

// newSubgroup allocates and zero-initializes a fresh subgroup record.
func (hi *hashIndex) newSubgroup() (uint64, error) {
	need := encoding.RecordHeaderSize + uint64(subgroupBodySize)
	off, allocLen, err := hi.fr.alloc(need, false)
	if err != nil {
		return 0, err
	}
	rh := encoding.RecordHeader{Flags: encoding.FlagSubgroup, DataLength: uint64(subgroupBodySize), ExtraLength: uint32(allocLen - need)}
	hi.fr.writeRecordHeader(off, rh)
	body := hi.fl.mapping[off+encoding.RecordHeaderSize : off+encoding.RecordHeaderSize+uint64(subgroupBodySize)]
	for i := range body {
		body[i] = 0
	}
	return off, nil
}
