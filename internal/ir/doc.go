// Package ir provides the foundational replication types for crr.
//
// This package contains value and record definitions only. All other
// internal packages import ir; ir imports nothing internal. This keeps
// ir the bottom layer with no circular dependencies.
//
// Key design constraints:
//   - Column values are a sealed set: Null, Int, Real, Text, Blob
//   - Primary keys travel as packed bytes (see PackColumns)
//   - Logical clocks only (col_version, db_version, causal length),
//     never wall-clock timestamps
//   - Canonical JSON for goldens and digests, msgpack on the wire
package ir
