package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/metrics"
	"github.com/roach88/crr/internal/schema"
	"github.com/roach88/crr/internal/store"
)

// Engine merges change records into one replica and produces change state
// for local writes.
//
// Thread-safety: all methods are safe for concurrent use. Writers of the
// same row are serialized by a sharded row lock table; the store's single
// SQLite connection serializes transactions.
type Engine struct {
	store   *store.Store
	siteID  []byte
	locks   *rowLocks
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine over an open store.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		siteID: s.SiteID(),
		locks:  &rowLocks{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// SiteID returns the local replica identity.
func (e *Engine) SiteID() []byte {
	return bytes.Clone(e.siteID)
}

// Metrics returns the engine's metrics, nil if disabled.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// ApplyResult summarizes a merged batch.
type ApplyResult struct {
	Accepted int
	Rejected int
	Noop     int

	// Outcomes holds the action taken for each record, in batch order.
	Outcomes []Action

	// DBVersion is the replica's db_version after the batch.
	DBVersion int64
}

// BatchHook runs inside the batch transaction before any record is merged.
// A non-nil error aborts the batch and is returned unchanged.
type BatchHook func(ctx context.Context, tx *store.Tx) error

// ApplyChanges merges a batch of incoming change records.
//
// The whole batch is validated against the registered schema first; a
// malformed record refuses the batch with an integrity MergeError naming
// its index. Records are then merged in order inside one transaction.
// A storage failure rolls the transaction back and returns a STORAGE
// MergeError. Records that produce no state change leave persisted clocks
// byte-identical.
func (e *Engine) ApplyChanges(ctx context.Context, changes []ir.Change) (ApplyResult, error) {
	return e.Apply(ctx, changes, nil)
}

// Apply is ApplyChanges with a hook that runs in the same transaction.
func (e *Engine) Apply(ctx context.Context, changes []ir.Change, hook BatchHook) (ApplyResult, error) {
	start := time.Now()

	sch, err := e.store.Tables(ctx)
	if err != nil {
		return ApplyResult{}, e.storageFailure(err, start)
	}
	if err := validateBatch(sch, changes); err != nil {
		e.logger.Error("merge batch refused",
			"records", len(changes),
			"error", err,
		)
		e.metrics.RecordMerge(metrics.ResultIntegrity, 0, 0, 0, time.Since(start))
		return ApplyResult{}, err
	}

	unlock := e.locks.lock(rowKeys(changes))
	defer unlock()

	var (
		res     ApplyResult
		hookErr error
	)
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		if hook != nil {
			if err := hook(ctx, tx); err != nil {
				hookErr = err
				return err
			}
		}

		current, err := tx.DBVersion(ctx)
		if err != nil {
			return err
		}
		stamper := NewVersionStamper(current)

		res = ApplyResult{Outcomes: make([]Action, len(changes))}
		for i, c := range changes {
			action, err := e.mergeOne(ctx, tx, stamper, c)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			res.Outcomes[i] = action
			switch {
			case action.Accepted():
				res.Accepted++
			case action == ActionNoop:
				res.Noop++
			default:
				res.Rejected++
			}
		}

		if stamper.Advanced() {
			if err := tx.SetDBVersion(ctx, stamper.Current()); err != nil {
				return err
			}
		}
		res.DBVersion = stamper.Current()
		return nil
	})
	if err != nil {
		if hookErr != nil && errors.Is(err, hookErr) {
			return ApplyResult{}, hookErr
		}
		return ApplyResult{}, e.storageFailure(err, start)
	}

	e.logger.Debug("merge batch applied",
		"records", len(changes),
		"accepted", res.Accepted,
		"rejected", res.Rejected,
		"noop", res.Noop,
		"db_version", res.DBVersion,
	)
	e.metrics.RecordMerge(metrics.ResultOK, res.Accepted, res.Rejected, res.Noop, time.Since(start))
	e.metrics.SetDBVersion(res.DBVersion)
	return res, nil
}

// mergeOne decides and applies one record.
func (e *Engine) mergeOne(ctx context.Context, tx *store.Tx, stamper *VersionStamper, c ir.Change) (Action, error) {
	cl, err := tx.GetRowCL(ctx, c.Table, c.PK)
	if err != nil {
		return ActionReject, err
	}
	local := RowState{CL: cl}

	if !c.IsSentinel() && c.CL == cl {
		local.Clock, local.HasClock, err = tx.GetClock(ctx, c.Table, c.PK, c.CID)
		if err != nil {
			return ActionReject, err
		}
		if local.Value, err = tx.GetCell(ctx, c.Table, c.PK, c.CID); err != nil {
			return ActionReject, err
		}
	}

	d := Decide(local, c, e.siteID)
	if !d.Action.Accepted() {
		return d.Action, nil
	}

	site := e.storedSite(c.SiteID)
	version := stamper.Stamp(c.DBVersion)

	switch d.Action {
	case ActionDelete, ActionAdvance:
		if err := e.startEpoch(ctx, tx, c.Table, c.PK, c.CL, ir.ClockEntry{ColVersion: c.CL, DBVersion: version, SiteID: site}); err != nil {
			return ActionReject, err
		}
		if d.Action == ActionDelete || c.IsSentinel() {
			return d.Action, nil
		}
	}

	err = e.putCell(ctx, tx, c.Table, c.PK, c.CID, c.Val, ir.ClockEntry{ColVersion: c.ColVersion, DBVersion: version, SiteID: site})
	if err != nil {
		return ActionReject, err
	}
	return d.Action, nil
}

// startEpoch moves a row to a new causal length: the old epoch's cells
// and column clocks are dropped and the sentinel carries the new cl.
func (e *Engine) startEpoch(ctx context.Context, tx *store.Tx, table string, pk []byte, cl int64, sentinel ir.ClockEntry) error {
	if err := tx.ClearCells(ctx, table, pk); err != nil {
		return err
	}
	if err := tx.ClearNonSentinelClocks(ctx, table, pk); err != nil {
		return err
	}
	if err := tx.SetRowCL(ctx, table, pk, cl); err != nil {
		return err
	}
	return tx.PutClock(ctx, table, pk, ir.SentinelCID, sentinel)
}

func (e *Engine) putCell(ctx context.Context, tx *store.Tx, table string, pk []byte, cid string, v ir.Value, clock ir.ClockEntry) error {
	if err := tx.PutClock(ctx, table, pk, cid, clock); err != nil {
		return err
	}
	return tx.PutCell(ctx, table, pk, cid, v)
}

// storedSite maps the local site to nil so locally originated clocks stay
// distinguishable from foreign ones.
func (e *Engine) storedSite(site []byte) []byte {
	if site == nil || bytes.Equal(site, e.siteID) {
		return nil
	}
	return bytes.Clone(site)
}

func (e *Engine) storageFailure(err error, start time.Time) error {
	merr := NewStorageError(err)
	e.logger.Error("merge batch failed", "error", err)
	e.metrics.RecordMerge(metrics.ResultStorage, 0, 0, 0, time.Since(start))
	return merr
}

// validateBatch checks every record against the schema before any storage
// access.
func validateBatch(sch *schema.Schema, changes []ir.Change) error {
	for i, c := range changes {
		err := sch.ValidateChange(c)
		if err == nil {
			continue
		}
		code := ErrCodeMalformedRecord
		switch {
		case errors.Is(err, schema.ErrUnknownTable):
			code = ErrCodeUnknownTable
		case errors.Is(err, schema.ErrUnknownColumn):
			code = ErrCodeUnknownColumn
		}
		return &MergeError{
			Code:    code,
			Message: err.Error(),
			Table:   c.Table,
			CID:     c.CID,
			Index:   i,
			Err:     err,
		}
	}
	return nil
}

func rowKeys(changes []ir.Change) []ir.RowKey {
	keys := make([]ir.RowKey, len(changes))
	for i, c := range changes {
		keys[i] = c.Row()
	}
	return keys
}
