package fs

import (
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"

	"github.com/localkv/tdb/encoding"
)

// file wraps the single OS file backing a database: its descriptor, the
// current memory-mapped view, and the mapping's size. All record and header
// access goes through its byte slice; growth remaps rather than reading or
// writing through the descriptor directly (§2 "File I/O & mmap").
type file struct {
	f       *os.File
	mapping []byte
	info    os.FileInfo
}

// createEmpty atomically writes a brand-new database file of HeaderSize
// bytes holding only the header (magic, version, seed and hash-test value
// set, every other field zero), so a crash mid-creation never leaves a
// file with a valid magic but garbage body. Grounded on the teacher's use
// of github.com/natefinch/atomic for whole-file writes before any mmap or
// lock exists to protect a partial write.
func createEmpty(path string, magic [encoding.MagicSize]byte, seed, hashTest uint64) error {
	buf := make([]byte, encoding.HeaderSize)
	h := encoding.Header{
		Magic:    magic,
		Version:  encoding.FormatVersion,
		HashSeed: seed,
		HashTest: hashTest,
	}
	copy(buf, encoding.EncodeHeader(&h, false))
	return atomic.WriteFile(path, bytesReader(buf))
}

// openFile opens path for the requested access, stats it, and memory-maps
// its current contents. writable selects os.O_RDWR, otherwise os.O_RDONLY;
// write-only (O_WRONLY) is rejected by the caller before reaching here,
// mirroring tdb_open's O_ACCMODE validation (SPEC_FULL.md §C.3).
func openFile(path string, writable bool) (*file, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fs: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fs: stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("fs: %s is empty", path)
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	m, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fs: mmap %s: %w", path, err)
	}
	return &file{f: f, mapping: m, info: fi}, nil
}

// grow extends the file to newSize (always a page-size multiple) and
// remaps it. The old mapping is unmapped first: on Linux, mremap could
// avoid the unmap/remap round trip, but unix.Mmap/Munmap is what the
// pack's examples (sdrees-go, calvinalkan-agent-task) actually use, so the
// simpler portable sequence is kept.
func (fl *file) grow(newSize int64) error {
	if newSize <= int64(len(fl.mapping)) {
		return nil
	}
	if err := fl.f.Truncate(newSize); err != nil {
		return fmt.Errorf("fs: truncate: %w", err)
	}
	if err := unix.Munmap(fl.mapping); err != nil {
		return fmt.Errorf("fs: munmap: %w", err)
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	m, err := unix.Mmap(int(fl.f.Fd()), 0, int(newSize), prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("fs: remap: %w", err)
	}
	fl.mapping = m
	return nil
}

// sync flushes the mapping and the file's metadata to stable storage. Used
// at every recovery-protocol checkpoint that must survive a crash (§2).
func (fl *file) sync() error {
	if err := unix.Msync(fl.mapping, unix.MS_SYNC); err != nil {
		return fmt.Errorf("fs: msync: %w", err)
	}
	return fl.f.Sync()
}

func (fl *file) close() error {
	var err error
	if unmapErr := unix.Munmap(fl.mapping); unmapErr != nil {
		err = unmapErr
	}
	if closeErr := fl.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// bytesReader adapts a []byte to the io.Reader atomic.WriteFile expects.
func bytesReader(b []byte) *byteReader { return &byteReader{b: b} }

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}
