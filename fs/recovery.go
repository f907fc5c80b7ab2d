package fs

import (
	"fmt"

	"github.com/localkv/tdb/encoding"
)

// writeOp is one staged byte-range write belonging to a not-yet-committed
// transaction: the destination offset in the file and the new bytes to
// place there once Phase2Commit applies it. The recovery record built from
// a batch of writeOps does not store these new bytes, though — it stores
// the old bytes currently sitting at each destination, making the
// write-ahead log an undo log: recovering from it restores the state from
// just before the commit, never advances toward it (§4.6 "Transaction &
// recovery", §3 invariant 5).
type writeOp struct {
	offset uint64
	data   []byte
}

// recoveryHeader is the fixed prefix of a recovery record's body. committed
// distinguishes two crash points: false means the undo payload was still
// being written out when the process died, so recovery can simply discard
// it (nothing was ever applied to a real destination); true means the
// commit reached the point of no return and recovery must restore the
// before-images to roll the transaction back, whether or not the real
// writes ever landed.
type recoveryHeader struct {
	committed uint8
	opCount   uint32
}

const recoveryHeaderSize = 1 + 4

// encodeRecovery serializes ops (the before-images for a transaction's
// writeOps, keyed by the same destination offsets) into a recovery record
// body: the recoveryHeader, then each op as (offset uint64, length
// uint32, data...).
func encodeRecovery(committed bool, ops []writeOp) []byte {
	size := recoveryHeaderSize
	for _, op := range ops {
		size += 8 + 4 + len(op.data)
	}
	buf := make([]byte, size)
	if committed {
		buf[0] = 1
	}
	off := recoveryHeaderSize
	putUint32(buf[1:5], uint32(len(ops)))
	for _, op := range ops {
		encoding.EncodeUint64(buf[off:off+8], op.offset)
		off += 8
		putUint32(buf[off:off+4], uint32(len(op.data)))
		off += 4
		copy(buf[off:off+len(op.data)], op.data)
		off += len(op.data)
	}
	return buf
}

func decodeRecovery(buf []byte) (committed bool, ops []writeOp, err error) {
	if len(buf) < recoveryHeaderSize {
		return false, nil, fmt.Errorf("fs: truncated recovery record")
	}
	committed = buf[0] == 1
	count := getUint32(buf[1:5])
	off := recoveryHeaderSize
	ops = make([]writeOp, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+12 > len(buf) {
			return false, nil, fmt.Errorf("fs: truncated recovery record")
		}
		offset := encoding.DecodeUint64(buf[off : off+8])
		off += 8
		length := getUint32(buf[off : off+4])
		off += 4
		data := append([]byte(nil), buf[off:off+int(length)]...)
		off += int(length)
		ops = append(ops, writeOp{offset: offset, data: data})
	}
	return committed, ops, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// recoveryManager owns the single in-flight recovery record a writer stages
// during Phase1Commit and applies during Phase2Commit, plus the crash
// recovery path run once at Open (§4.6, §8 "crash-safe").
type recoveryManager struct {
	fl     *file
	fr     *freeList
	hdrOf  func() uint64 // returns the current header.Recovery offset
	setHdr func(off uint64)
}

func newRecoveryManager(fl *file, fr *freeList, hdrOf func() uint64, setHdr func(uint64)) *recoveryManager {
	return &recoveryManager{fl: fl, fr: fr, hdrOf: hdrOf, setHdr: setHdr}
}

// stage captures the before-image of every byte range ops is about to
// overwrite, writes it into a freshly allocated recovery record, fsyncs it
// with committed=false, then flips the record to committed=true and fsyncs
// again (§4.6 steps 2-4). None of ops' destinations are touched yet: a
// crash anywhere up to and including this call leaves the real data
// exactly as it was, so discarding or restoring the (identical) before-
// image both recover to the same, correct, pre-commit state.
func (rm *recoveryManager) stage(ops []writeOp) (uint64, error) {
	before := make([]writeOp, len(ops))
	for i, op := range ops {
		old := append([]byte(nil), rm.fl.mapping[op.offset:op.offset+uint64(len(op.data))]...)
		before[i] = writeOp{offset: op.offset, data: old}
	}

	body := encodeRecovery(false, before)
	need := encoding.RecordHeaderSize + uint64(len(body))
	off, allocLen, err := rm.fr.alloc(need, false)
	if err != nil {
		return 0, err
	}
	rh := encoding.RecordHeader{Flags: encoding.FlagRecovery, DataLength: uint64(len(body)), ExtraLength: uint32(allocLen - need)}
	rm.fr.writeRecordHeader(off, rh)
	copy(rm.fl.mapping[off+encoding.RecordHeaderSize:], body)
	rm.setHdr(off)
	if err := rm.fl.sync(); err != nil {
		return 0, err
	}

	// Mark the undo payload durable and authoritative: from here on, a
	// crash must roll the transaction back on recovery even if Phase2Commit
	// went on to apply some or all of its writes before dying.
	rm.fl.mapping[off+encoding.RecordHeaderSize] = 1
	if err := rm.fl.sync(); err != nil {
		return 0, err
	}
	return off, nil
}

// commit applies ops' new bytes to their real destinations now that their
// before-images are durably recorded, then clears and frees the recovery
// record (§4.6 steps 5-7).
func (rm *recoveryManager) commit(recOff uint64, ops []writeOp) error {
	rh, err := rm.fr.readRecordHeader(recOff)
	if err != nil {
		return err
	}
	for _, op := range ops {
		copy(rm.fl.mapping[op.offset:op.offset+uint64(len(op.data))], op.data)
	}
	if err := rm.fl.sync(); err != nil {
		return err
	}
	rm.setHdr(0)
	rm.fr.free(recOff, rh)
	return rm.fl.sync()
}

// discard frees a staged-but-never-applied recovery record, used by
// Rollback: since Phase2Commit never ran, the real data locations were
// never touched and the before-image doesn't need restoring (§4.6
// "Rollback").
func (rm *recoveryManager) discard(recOff uint64) error {
	rh, err := rm.fr.readRecordHeader(recOff)
	if err != nil {
		return err
	}
	rm.setHdr(0)
	rm.fr.free(recOff, rh)
	return rm.fl.sync()
}

// recover runs once at Open when the header still points at a recovery
// record from a previous process. A committed record means the crash
// happened at or after the point of no return, so its before-images are
// written back to undo whatever of the commit did or didn't reach its real
// destinations, restoring the file to its pre-commit state byte-for-byte
// (§3 invariant 5); an uncommitted record never had any destination
// touched and is simply discarded (§8 "recovers cleanly").
func (rm *recoveryManager) recover() error {
	recOff := rm.hdrOf()
	if recOff == 0 {
		return nil
	}
	rh, err := rm.fr.readRecordHeader(recOff)
	if err != nil {
		return fmt.Errorf("fs: reading recovery record during recovery: %w", err)
	}
	body := rm.fl.mapping[recOff+encoding.RecordHeaderSize : recOff+encoding.RecordHeaderSize+rh.DataLength]
	committed, before, err := decodeRecovery(body)
	if err != nil {
		return fmt.Errorf("fs: decoding recovery record: %w", err)
	}
	if committed {
		for _, op := range before {
			copy(rm.fl.mapping[op.offset:op.offset+uint64(len(op.data))], op.data)
		}
	}
	rm.setHdr(0)
	rm.fr.free(recOff, rh)
	return rm.fl.sync()
}
