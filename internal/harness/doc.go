// Package harness runs convergence scenarios against in-memory replicas.
//
// A scenario names a set of replicas sharing one schema, drives them with
// local writes, exchanges and hand-written change records, and checks
// their final state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: ../schema.cue
//	replicas: [c1, c2]
//	steps:
//	  - write: c1
//	    ops:
//	      - { op: insert, table: foo, pk: [1], values: { b: 1 } }
//	      - { op: update, table: foo, pk: [1], column: b, value: 2 }
//	  - sync: { from: c1, to: c2 }
//	  - apply: c2
//	    records:
//	      - { table: foo, pk: [1], cid: b, value: 3, col_version: 1, db_version: 1, site: c1, cl: 1 }
//	    expect_unchanged: true
//	assertions:
//	  - type: row
//	    replica: c2
//	    table: foo
//	    pk: [1]
//	    cl: 1
//	    values: { b: 2 }
//	  - type: converged
//
// Blobs are written as { blob: <hex> } wherever a value is expected.
//
// # Assertion Types
//
//   - converged: replicas (default: all) hold identical state digests
//   - row: a row exists with the given causal length and values (subset match)
//   - row_absent: the replica never saw the row
//   - clock: a cell's col_version, causal length and originating replica
//   - db_version: a replica's db_version
//
// # Deterministic Testing
//
// Replica i of a scenario always gets site id testutil.SiteID(i+1) and
// runs on its own in-memory SQLite database, so traces and final states
// are reproducible and can be compared against golden snapshots.
package harness
