package fs

import (
	"fmt"
	"os"
	"sync"
)

// fileKey identifies a database file by (device, inode) rather than by
// path, so two different paths that resolve to the same underlying file
// (bind mount, hardlink, symlink) are still recognized as the same file.
type fileKey struct {
	dev, ino uint64
}

// openRegistry is a process-local record of every database file this
// process currently has open, keyed by (device, inode). It mirrors the real
// tdb2 engine's tdb_already_open check: a second Open of the same file
// within one process is rejected rather than silently creating a second,
// independently-mmap'd view that would desynchronize from the first.
type openRegistry struct {
	mu    sync.Mutex
	open  map[fileKey]string // value: path, for error messages
}

var registry = &openRegistry{open: make(map[fileKey]string)}

// ErrAlreadyOpen is returned by Open when this process already holds the
// file open.
type ErrAlreadyOpen struct {
	Path       string
	ExistingAs string
}

func (e *ErrAlreadyOpen) Error() string {
	if e.Path == e.ExistingAs {
		return fmt.Sprintf("fs: %s is already open in this process", e.Path)
	}
	return fmt.Sprintf("fs: %s is already open in this process (as %s)", e.Path, e.ExistingAs)
}

// register claims fi's (device, inode) pair for path. It fails if another
// path in this process already holds the same pair open.
func (r *openRegistry) register(path string, fi os.FileInfo) error {
	k, ok := fileKeyFromStat(fi)
	if !ok {
		// Platform without inode info (shouldn't happen on the unix targets
		// this package supports); fail open rather than silently skip the
		// double-open check.
		return fmt.Errorf("fs: cannot determine file identity for %s", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, found := r.open[k]; found {
		return &ErrAlreadyOpen{Path: path, ExistingAs: existing}
	}
	r.open[k] = path
	return nil
}

// unregister releases the (device, inode) claim for fi, called from Close.
func (r *openRegistry) unregister(fi os.FileInfo) {
	k, ok := fileKeyFromStat(fi)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, k)
}
