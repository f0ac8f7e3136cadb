package engine

import (
	"bytes"

	"github.com/roach88/crr/internal/ir"
)

// Action is what the merge rule decided to do with an incoming record.
type Action int

const (
	// ActionReject leaves local state untouched: the record is stale or
	// loses the tie-break.
	ActionReject Action = iota

	// ActionNoop leaves local state untouched: the record carries nothing
	// new (a sentinel at the current causal length, or an identical cell).
	ActionNoop

	// ActionDelete tombstones the row at the record's causal length.
	ActionDelete

	// ActionAdvance moves a row to a new live epoch (insert or
	// resurrection). A column record also sets its cell.
	ActionAdvance

	// ActionUpdate overwrites one cell within the current epoch.
	ActionUpdate
)

var actionNames = [...]string{"reject", "noop", "delete", "advance", "update"}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Accepted reports whether the action changes local state.
func (a Action) Accepted() bool {
	return a >= ActionDelete
}

// RowState is the local snapshot the merge rule decides against: the row's
// causal length and the clock and value of the incoming record's column.
type RowState struct {
	// CL is the row's causal length, 0 if the row is unknown.
	CL int64

	// HasClock reports whether the column has a clock in this epoch.
	HasClock bool
	Clock    ir.ClockEntry
	Value    ir.Value
}

// Decision is the outcome of the merge rule for one record.
type Decision struct {
	Action Action
	Reason string
}

// Decide applies the causal-length merge rule to one incoming record.
// It is a pure function of the local snapshot; localSite resolves nil
// site ids on either side before the site tie-break.
//
//  1. incoming cl < local cl: reject.
//  2. incoming cl > local cl: an even-cl sentinel deletes; anything else
//     advances the row to the new epoch.
//  3. equal cl: sentinels are no-ops and column records on a tombstone are
//     rejected; otherwise the higher col_version wins, then the higher
//     value, then the higher site id. Identical records are no-ops.
func Decide(local RowState, in ir.Change, localSite []byte) Decision {
	switch {
	case in.CL < local.CL:
		return Decision{ActionReject, "stale causal length"}

	case in.CL > local.CL:
		if in.IsDelete() {
			return Decision{ActionDelete, "delete at higher causal length"}
		}
		return Decision{ActionAdvance, "new epoch"}
	}

	if in.IsSentinel() {
		return Decision{ActionNoop, "sentinel at current causal length"}
	}
	if !ir.IsAlive(local.CL) {
		return Decision{ActionReject, "column record on tombstone"}
	}
	if !local.HasClock {
		return Decision{ActionUpdate, "no local clock"}
	}

	switch c := compareClocks(local, in, localSite); {
	case c > 0:
		return Decision{ActionUpdate, "incoming wins"}
	case c < 0:
		return Decision{ActionReject, "local wins"}
	default:
		return Decision{ActionNoop, "identical"}
	}
}

// compareClocks orders the incoming record against the local cell:
// col_version, then value, then site id. Positive means incoming wins.
func compareClocks(local RowState, in ir.Change, localSite []byte) int {
	switch {
	case in.ColVersion > local.Clock.ColVersion:
		return 1
	case in.ColVersion < local.Clock.ColVersion:
		return -1
	}
	if c := ir.Compare(in.Val, local.Value); c != 0 {
		return c
	}
	return bytes.Compare(resolveSite(in.SiteID, localSite), resolveSite(local.Clock.SiteID, localSite))
}

func resolveSite(site, localSite []byte) []byte {
	if site == nil {
		return localSite
	}
	return site
}
