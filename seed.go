package tdb

import (
	"encoding/binary"
	"os"
	"time"
)

// resolveSeed picks a hash seed for a newly created file, following the
// exact fallback order tdb2's random_number() uses (SPEC_FULL.md §C.1):
// /dev/urandom first, then /dev/egd-pool (an entropy gathering daemon
// socket some older Unixes exposed), and only if both are unavailable a
// pid/time-derived value. The seed only needs to be unpredictable enough to
// avoid pathological hash-flooding, not cryptographically strong.
func resolveSeed() uint64 {
	if v, ok := readSeedFrom("/dev/urandom"); ok {
		return v
	}
	if v, ok := readSeedFrom("/dev/egd-pool"); ok {
		return v
	}
	return uint64(os.Getpid())*1000003 + uint64(time.Now().UnixNano())
}

func readSeedFrom(path string) (uint64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	var buf [8]byte
	if _, err := f.Read(buf[:]); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}
