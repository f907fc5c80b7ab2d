package fs

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// HashFunc computes a key's 64-bit hash. The default, seededXXHash, is
// grounded on github.com/cespare/xxhash/v2 (theflywheel-phash in the
// example pack is a dedicated xxhash-based tool; the teacher's own go.mod
// carries xxhash as an indirect dependency already). A caller-supplied
// HashFunc (the WithHashFunc attribute, §6) can replace it entirely.
type HashFunc func(seed uint64, key []byte) uint64

// seededXXHash folds seed into the hash by writing it into the digest ahead
// of the key, since the upstream xxhash/v2 API has no native seed
// parameter. This keeps two databases created with different seeds from
// producing colliding trie layouts for data migrated between them, the
// property the seed exists for (§6 "seed").
func seededXXHash(seed uint64, key []byte) uint64 {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)
	d := xxhash.New()
	d.Write(seedBytes[:])
	d.Write(key)
	return d.Sum64()
}
