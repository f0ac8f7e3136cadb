package harness

import (
	"github.com/roach88/crr/internal/ir"
)

// Trace event kinds.
const (
	KindWrite = "write"
	KindSync  = "sync"
	KindApply = "apply"
)

// TraceEvent records what one scenario step did.
type TraceEvent struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Replica string `json:"replica"`
	From    string `json:"from,omitempty"`

	// Ops is the number of local operations of a write step.
	Ops int `json:"ops,omitempty"`

	// Merge counts of a sync or apply step.
	Shipped  int `json:"shipped,omitempty"`
	Accepted int `json:"accepted,omitempty"`
	Rejected int `json:"rejected,omitempty"`
	Noop     int `json:"noop,omitempty"`

	// Error is the error class the step ended with, if any.
	Error string `json:"error,omitempty"`

	// DBVersion is the target replica's db_version after the step.
	DBVersion int64 `json:"db_version"`
}

// RowState is one row of a replica's final state.
type RowState struct {
	Table  string
	PK     []ir.Value
	CL     int64
	Values map[string]ir.Value
}

// ReplicaState is a replica's final state.
type ReplicaState struct {
	DBVersion int64
	Digest    string
	Rows      []RowState
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds each replica's final state, keyed by replica name.
	State map[string]ReplicaState `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ReplicaState),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
