package tdb

import "github.com/localkv/tdb/fs"

// attributes collects Open's tunables (§6 "Environment" / attribute list),
// built from the functional options below rather than the teacher's
// JSON-file Configuration/LoadConfiguration pair, which configured
// Cassandra/Redis hosts that have no equivalent in a local single file.
type attributes struct {
	logSink  LogSink
	hashFunc fs.HashFunc
	seed     uint64
	seedSet  bool
	stats    *fs.Stats
}

// Option configures Open.
type Option func(*attributes)

// WithLogSink installs a callback that receives every message the engine
// would otherwise send to the default slog logger (§6 "log-sink").
func WithLogSink(sink LogSink) Option {
	return func(a *attributes) { a.logSink = sink }
}

// WithHashFunc overrides the default seeded xxhash function used to place
// keys in the trie. Changing this for an existing file changes where every
// key hashes to, so it must match whatever the file was created with.
func WithHashFunc(h func(seed uint64, key []byte) uint64) Option {
	return func(a *attributes) { a.hashFunc = fs.HashFunc(h) }
}

// WithSeed fixes the hash seed used when creating a new file. Ignored when
// opening an existing file, whose stored seed always wins (§6 "seed").
func WithSeed(seed uint64) Option {
	return func(a *attributes) { a.seed = seed; a.seedSet = true }
}

// WithStats installs a counters struct the embedder can poll or snapshot
// via Stats.Snapshot (§6 "stats").
func WithStats(s *Stats) Option {
	return func(a *attributes) { a.stats = s }
}

func resolveAttributes(opts []Option) attributes {
	var a attributes
	for _, opt := range opts {
		opt(&a)
	}
	if !a.seedSet {
		a.seed = resolveSeed()
	}
	if a.stats == nil {
		a.stats = &fs.Stats{}
	}
	return a
}
