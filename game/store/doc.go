// Package store provides the key/value persistence contract of the match
// server and its in-process backends.
//
// Records are addressed by (table, partition, key). Every backend offers
// an unconditional Put (last writer wins) and a CompareAndSwap guarded by
// an opaque tag, which the turn orchestrator uses for optimistic commits of
// session state.
//
// Backends:
//
//   - MemoryStore: in-process maps, used by tests and single-node setups
//   - FileStore: one JSON file per record, useful for local development
//   - sqlite.Store (subpackage): durable, conditional UPDATE on the tag
//   - redis.Store (subpackage): shared across processes, WATCH/MULTI
package store
