package tdb

import "github.com/localkv/tdb/fs"

// Stats is an alias for fs.Stats: the counters the free-space manager and
// the transaction engine maintain (allocations, frees, file expansions,
// commits, rollbacks) plus a LockWaits field that nothing increments,
// surfaced to the
// embedder via the stats attribute (§6 "stats", SPEC_FULL.md §A.1).
type Stats = fs.Stats
