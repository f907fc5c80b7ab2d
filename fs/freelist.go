package fs

import (
	"fmt"

	"github.com/localkv/tdb/encoding"
)

// freeListBinCount is the number of size-binned free lists the allocator
// maintains; bin i holds free records whose allocated length falls in
// (2^(i-1), 2^i] bytes (§2 "Free-space manager", §3). Records larger than
// 2^30 bytes are all chained into the top bin regardless of size.
const freeListBinCount = 32

// freeListHeader is the fixed-size record type that anchors all the bins;
// exactly one exists per file, pointed to by encoding.Header.FreeTable.
// Each bin is the file offset of the first free record in that bin's
// singly-linked free chain, or 0 if the bin is empty.
type freeListHeader struct {
	Bins [freeListBinCount]uint64
}

const freeListHeaderSize = freeListBinCount * 8

// minRecordSize is the smallest footprint a free record can have: its own
// header plus room for the free-chain's next-pointer field. Alloc will not
// split a remainder smaller than this off as its own free record, since it
// would have nowhere to store that pointer (§4.3 "the remainder, if at
// least the minimum record size, becomes a free record").
const minRecordSize = encoding.RecordHeaderSize + 8

func binFor(allocLen uint64) int {
	bin := 0
	for sz := uint64(1); sz < allocLen && bin < freeListBinCount-1; sz <<= 1 {
		bin++
	}
	return bin
}

// growthSlack returns the extra bytes alloc reserves past need when growing
// is requested: a one-eighth multiplicative margin, floored at 16 bytes, so
// a later Append or in-place Store that fits within it can update the
// record without relocating it (§4.3 "Alloc(..., growing)", §4.7 "append").
func growthSlack(need uint64) uint64 {
	extra := need / 8
	if extra < 16 {
		extra = 16
	}
	return extra
}

// freeRecordNext is stored in the first 8 bytes of a free record's payload
// (immediately after its RecordHeader), chaining it to the next free record
// in the same bin.
func readFreeNext(body []byte) uint64 {
	return encoding.DecodeUint64(body[:8])
}

func writeFreeNext(body []byte, next uint64) {
	encoding.EncodeUint64(body[:8], next)
}

// freeList manages allocation and release of record slots within the
// mmap'd file, coalescing adjacent free records where possible (§2, §3
// "coalesced free record"). It does not itself take locks; its callers run
// inside a writer transaction holding the LockTransaction lock.
type freeList struct {
	fl     *file
	hdrOff uint64 // offset of the freeListHeader record's body
	locks  *LockManager
	stats  *Stats
}

func newFreeList(fl *file, hdrOff uint64, locks *LockManager, stats *Stats) *freeList {
	return &freeList{fl: fl, hdrOff: hdrOff, locks: locks, stats: stats}
}

func (f *freeList) readHeader() freeListHeader {
	var h freeListHeader
	body := f.fl.mapping[f.hdrOff : f.hdrOff+freeListHeaderSize]
	for i := 0; i < freeListBinCount; i++ {
		h.Bins[i] = encoding.DecodeUint64(body[i*8 : i*8+8])
	}
	return h
}

func (f *freeList) writeHeader(h freeListHeader) {
	body := f.fl.mapping[f.hdrOff : f.hdrOff+freeListHeaderSize]
	for i := 0; i < freeListBinCount; i++ {
		encoding.EncodeUint64(body[i*8:i*8+8], h.Bins[i])
	}
}

// alloc returns the offset of a record slot able to hold at least need
// bytes (header + key + data) and the slot's actual total footprint: need
// rounded up to a multiple of 8 bytes (after adding slack when growing is
// requested), or more when a
// reused free record's remainder was too small to stand alone and was
// folded in as padding instead (§4.3 "Alloc"). The caller records the
// difference between the returned footprint and its own content length as
// the record's ExtraLength.
func (f *freeList) alloc(need uint64, growing bool) (uint64, uint64, error) {
	want := need
	if growing {
		want += growthSlack(need)
	}
	// Whole 8-byte words keep every slot, and every remainder split off
	// after one, 8-byte aligned.
	want = (want + 7) &^ 7

	bin := binFor(want)
	h := f.readHeader()
	for b := bin; b < freeListBinCount; b++ {
		off := h.Bins[b]
		if off == 0 {
			continue
		}
		rh, err := f.readRecordHeader(off)
		if err != nil {
			return 0, 0, err
		}
		avail := rh.AllocatedLength()
		if avail < want {
			continue
		}

		// Pop the head of the chain.
		nextOff := readFreeNext(f.fl.mapping[off+encoding.RecordHeaderSize:])
		h.Bins[b] = nextOff
		f.writeHeader(h)

		remainder := avail - want
		if remainder >= minRecordSize {
			f.insertFree(off+want, remainder, encoding.FlagFree)
			return off, want, nil
		}
		// Remainder too small to stand alone as a free record; fold it
		// into this allocation as padding rather than losing it.
		return off, avail, nil
	}
	return f.extend(want)
}

// free returns a record's slot to the free-space manager, coalescing it
// with the record immediately following it in the file when that neighbor
// is itself free (§3 "coalesced free record", glossary "Coalesce"). The
// merged record is reinserted into the bin matching its combined size.
//
// Only the forward neighbor is checked: the offset of the next record is
// always off+length, so finding it costs nothing, but finding the previous
// record would need a reliable boundary tag reserved in every record's
// layout (used and free alike), which this format does not carry. Forward
// coalescing alone still catches deleting a run of adjacent records from
// the back, e.g. clearing keys in the reverse of the order they were
// inserted.
func (f *freeList) free(off uint64, rh encoding.RecordHeader) {
	length := rh.AllocatedLength()
	flags := encoding.FlagFree

	nextOff := off + length
	if nextOff < uint64(len(f.fl.mapping)) {
		if nextRh, err := f.readRecordHeader(nextOff); err == nil && nextRh.IsFree() {
			f.unlink(nextOff, nextRh.AllocatedLength())
			length += nextRh.AllocatedLength()
			flags |= encoding.FlagCoalesced
		}
	}
	f.insertFree(off, length, flags)
}

// insertFree writes a free record header of the given allocated length at
// off and pushes it onto its size bin's chain head (§4.3 "Add_free").
func (f *freeList) insertFree(off, allocLen uint64, flags uint64) {
	rh := encoding.RecordHeader{Flags: flags, DataLength: allocLen - encoding.RecordHeaderSize}
	f.writeRecordHeader(off, rh)
	bin := binFor(allocLen)
	h := f.readHeader()
	writeFreeNext(f.fl.mapping[off+encoding.RecordHeaderSize:], h.Bins[bin])
	h.Bins[bin] = off
	f.writeHeader(h)
}

// unlink removes the free record at off, whose allocated length is
// allocLen, from its size bin's chain, wherever in the chain it sits.
func (f *freeList) unlink(off, allocLen uint64) {
	bin := binFor(allocLen)
	h := f.readHeader()
	if h.Bins[bin] == off {
		h.Bins[bin] = readFreeNext(f.fl.mapping[off+encoding.RecordHeaderSize:])
		f.writeHeader(h)
		return
	}
	cur := h.Bins[bin]
	for cur != 0 {
		next := readFreeNext(f.fl.mapping[cur+encoding.RecordHeaderSize:])
		if next == off {
			writeFreeNext(f.fl.mapping[cur+encoding.RecordHeaderSize:], readFreeNext(f.fl.mapping[off+encoding.RecordHeaderSize:]))
			return
		}
		cur = next
	}
}

// extend grows the file by whole pages to fit a new record of size want,
// returning the offset of the newly carved-out slot and its footprint
// (§3 invariant: file size is always a page-size multiple). Any leftover
// tail between the new record and the page boundary becomes its own free
// record when there's room for one, rather than being silently leaked.
func (f *freeList) extend(want uint64) (uint64, uint64, error) {
	cur := int64(len(f.fl.mapping))
	newSize := cur + int64(want)
	if rem := newSize % encoding.PageSize; rem != 0 {
		newSize += encoding.PageSize - rem
	}
	if err := f.fl.grow(newSize); err != nil {
		return 0, 0, fmt.Errorf("fs: extend: %w", err)
	}
	f.stats.incr(&f.stats.Expansions)

	off := uint64(cur)
	tail := uint64(newSize) - off - want
	if tail >= minRecordSize {
		f.insertFree(off+want, tail, encoding.FlagFree)
		return off, want, nil
	}
	return off, want + tail, nil
}

func (f *freeList) readRecordHeader(off uint64) (encoding.RecordHeader, error) {
	return encoding.DecodeRecordHeader(f.fl.mapping[off:off+encoding.RecordHeaderSize], false)
}

func (f *freeList) writeRecordHeader(off uint64, rh encoding.RecordHeader) {
	copy(f.fl.mapping[off:off+encoding.RecordHeaderSize], encoding.EncodeRecordHeader(rh, false))
}
