//go:build unix

package fs

import (
	"os"
	"syscall"
)

// fileKeyFromStat extracts the (device, inode) pair from a unix FileInfo.
func fileKeyFromStat(fi os.FileInfo) (fileKey, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return fileKey{}, false
	}
	return fileKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
}
