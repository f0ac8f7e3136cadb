// Package engine implements the causal-length merge engine of a replica.
//
// The engine receives change records from peers and merges them into the
// local clock store, and turns local row operations into change state.
//
// MERGE RULE:
//
// Every row has a causal length (cl). Odd cl means the row exists; even
// cl means it is tombstoned. An incoming record with a lower cl than the
// local row is stale and rejected. A higher cl moves the row into a new
// epoch (delete, insert or resurrection) and drops the older epoch's
// column state. At equal cl, column records compete by col_version, then
// by value, then by site id. See Decide.
//
// Merge precedence never looks at db_version. db_version only orders the
// local change stream; each accepted record is stamped with
// max(local db_version + 1, incoming db_version).
//
// CONCURRENCY:
//
// A batch (merge or local transaction) takes the row lock shards for all
// of its rows before it opens the store transaction, in ascending shard
// order. There is no cross-row locking beyond shard collisions and no
// retry loop.
//
// ERRORS:
//
// Malformed batches fail whole with an integrity MergeError before any
// storage access. Storage failures roll the batch back and surface as a
// STORAGE MergeError. Rejected records are outcomes, not errors.
package engine
