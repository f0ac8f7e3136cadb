// Package changestream moves change records between replicas.
//
// # Outbound
//
// A Cursor reads a replica's change stream: every sentinel and column
// record with db_version above its watermark, in stream order. Records are
// fetched in pages that always hold whole db_versions, so a causal-length
// transition (a tombstone and the columns of the epoch that follows it)
// never straddles two pages. The cursor's only state is its watermark; a
// cursor built at a saved watermark resumes exactly where the old one
// stopped.
//
// Records leave a replica with concrete site ids. Clocks written locally
// are stored with a nil site and resolved to the replica's own site id on
// the way out.
//
// # Inbound
//
// A Changeset is a batch of records from one sender covering the sender's
// db_version range (Since, Until]. The receiver keeps the highest Until it
// has applied per sender. A changeset whose Since lies beyond that
// watermark would leave a hole and is refused with a *GapError; the sender
// restarts from GapError.Have.
//
// Applying a changeset and advancing the watermark happen in one
// transaction.
package changestream
