package ir

import (
	"bytes"
	"encoding/hex"
)

// SentinelCID is the reserved column id of the row-existence record.
// Its clock carries the row's causal length; its value is always null.
const SentinelCID = "-1"

// Change is the exchangeable unit of replication: one column (or sentinel)
// mutation of one row, together with the clock that produced it.
//
// Wire form is the 8-tuple
//
//	(table, pk, cid, value, col_version, db_version, site_id, cl)
//
// SiteID nil means "the site that produced this record locally"; cursors
// resolve it to a concrete site id before records leave a replica.
type Change struct {
	Table      string `json:"table"`
	PK         []byte `json:"pk"`
	CID        string `json:"cid"`
	Val        Value  `json:"val"`
	ColVersion int64  `json:"col_version"`
	DBVersion  int64  `json:"db_version"`
	SiteID     []byte `json:"site_id"`
	CL         int64  `json:"cl"`
}

// IsSentinel reports whether the change describes row existence rather
// than a column value.
func (c Change) IsSentinel() bool {
	return c.CID == SentinelCID
}

// IsDelete reports whether the change is a sentinel that tombstones its row.
func (c Change) IsDelete() bool {
	return c.IsSentinel() && !IsAlive(c.CL)
}

// Row returns the identity of the row the change belongs to.
func (c Change) Row() RowKey {
	return RowKey{Table: c.Table, PK: string(c.PK)}
}

// RowKey identifies a row. PK holds the packed primary key bytes so the key
// is comparable and usable in maps.
type RowKey struct {
	Table string
	PK    string
}

// String renders the key as table/hex(pk) for logs.
func (k RowKey) String() string {
	return k.Table + "/" + hex.EncodeToString([]byte(k.PK))
}

// ClockEntry is the logical clock of one (row, column) cell.
type ClockEntry struct {
	ColVersion int64
	DBVersion  int64
	SiteID     []byte // nil = local site
}

// Equal reports whether two entries are identical, including site id.
func (e ClockEntry) Equal(o ClockEntry) bool {
	return e.ColVersion == o.ColVersion && e.DBVersion == o.DBVersion && bytes.Equal(e.SiteID, o.SiteID)
}

// IsAlive reports whether a causal length denotes a live row.
// Odd lengths are alive (insert, resurrect), even lengths are tombstones.
// Zero means the row has never been seen.
func IsAlive(cl int64) bool {
	return cl%2 == 1
}

// NextCL returns the causal length after a local delete or resurrect.
func NextCL(cl int64) int64 {
	return cl + 1
}
