// Package tdb implements a single-file, memory-mapped key/value database
// with crash-safe transactional updates, advisory byte-range locking across
// cooperating processes sharing the same file, and write-ahead recovery.
//
// A database is one regular file containing a fixed header, a trie of hash
// groups, size-binned free lists, and variable-length records. Concurrent
// processes open the same path and coordinate purely through byte-range
// locks on that file — there is no server, no network protocol, and no
// second file. See fs.Engine for the storage implementation and encoding
// for the on-disk layouts; this package exposes the embedder-facing Open,
// the Store/Fetch/Append/Delete/Traverse/Check operations, and the
// Transaction wrapper around the engine's write-ahead commit protocol.
package tdb

// Timeout model
//
// The engine's lock calls (the open lock, the transaction lock, the
// hash-bucket locks and the all-records lock) block in the kernel
// (F_SETLKW) until the lock is granted; neither a context deadline nor a
// retry budget bounds that wait. Only a non-blocking lock request in
// fs/lock.go is retried, up to 8 times with Fibonacci backoff starting at
// 2ms, before it fails. A transaction's maxTime sets the deadline of the
// context its Commit passes to the engine's commit phases, which do not
// consult it.
