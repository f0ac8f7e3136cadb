// Package store provides the SQLite-backed clock store and row store of
// one replica.
//
// Tables:
//   - crr_rows: causal length per (table, pk); odd = alive, even = tombstone
//   - crr_clocks: (col_version, db_version, site_id) per (table, pk, cid),
//     including the sentinel cid "-1" whose col_version equals cl
//   - crr_cells: the visible value of each (table, pk, cid)
//   - crr_meta: replica identity and the db_version clock
//   - crr_tables: registered table definitions (canonical JSON)
//   - crr_peers: last applied db_version per peer site
//
// # Invariants
//
//   - Clock state is never physically removed; a tombstone keeps its
//     sentinel clock and crr_rows entry
//   - All ordering uses db_version (a logical clock), NEVER timestamps
//   - Change stream queries are fully ordered:
//     ORDER BY db_version, tbl, pk, sentinel first, cid
//   - A clock write and its row-data write share one SQL transaction
//     (Store.Update); either both commit or both roll back
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000 unless configured otherwise
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: SQLite has a single writer
package store
