package harness

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/crr/internal/changestream"
	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/schema"
	"github.com/roach88/crr/internal/store"
	"github.com/roach88/crr/internal/testutil"
)

// Harness runs one scenario against a set of in-memory replicas.
type Harness struct {
	schema   *schema.Schema
	replicas map[string]*engine.Engine
	sites    map[string][]byte
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Every replica runs on a fresh in-memory database. Replica i (in
// declaration order) gets site id testutil.SiteID(i+1), so runs are
// reproducible and golden snapshots are stable.
//
// Step failures that the scenario did not expect and failed assertions
// are reported in the result. The returned error is reserved for setup
// failures (schema, storage).
func Run(scenario *Scenario) (*Result, error) {
	sch, err := schema.LoadFile(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	h := &Harness{
		schema:   sch,
		replicas: make(map[string]*engine.Engine, len(scenario.Replicas)),
		sites:    make(map[string][]byte, len(scenario.Replicas)),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	sites := testutil.NewSiteSequence()
	for _, name := range scenario.Replicas {
		site, _ := sites.Generate()
		st, err := store.Open(":memory:", store.WithSiteID(site))
		if err != nil {
			return nil, fmt.Errorf("replica %s: failed to create in-memory store: %w", name, err)
		}
		defer st.Close()

		if err := st.RegisterTables(ctx, sch); err != nil {
			return nil, fmt.Errorf("replica %s: %w", name, err)
		}
		h.replicas[name] = engine.New(st, engine.WithLogger(h.logger))
		h.sites[name] = site
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, name := range scenario.Replicas {
		state, err := h.capture(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("replica %s: %w", name, err)
		}
		result.State[name] = state
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.assertionContext(ctx)) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step, records its trace event and checks its
// expected outcome.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	target := stepTarget(step)
	e := h.replicas[target]

	var before store.ChangePage
	if step.ExpectUnchanged {
		var err error
		if before, err = e.Store().ChangesSince(ctx, store.ChangeQuery{}); err != nil {
			return err
		}
	}

	ev := TraceEvent{Step: i, Replica: target}
	var stepErr error
	switch {
	case step.Write != "":
		ev.Kind = KindWrite
		ev.Ops = len(step.Ops)
		stepErr = h.executeWrite(ctx, e, step.Ops)

	case step.Sync != nil:
		ev.Kind = KindSync
		ev.From = step.Sync.From
		stepErr = h.executeSync(ctx, step.Sync, &ev)

	default:
		ev.Kind = KindApply
		ev.Shipped = len(step.Records)
		changes, err := h.buildRecords(step.Records)
		if err != nil {
			return err
		}
		res, err := e.ApplyChanges(ctx, changes)
		countOutcomes(&ev, res)
		stepErr = err
	}

	if stepErr != nil {
		ev.Error = errorClass(stepErr)
	}
	switch {
	case stepErr != nil && step.ExpectError == "":
		result.AddError(fmt.Sprintf("step %d (%s %s): unexpected error: %v", i, ev.Kind, target, stepErr))
	case step.ExpectError != "" && ev.Error != step.ExpectError:
		result.AddError(fmt.Sprintf("step %d (%s %s): expected %s error, got %q", i, ev.Kind, target, step.ExpectError, ev.Error))
	}

	version, err := e.Store().DBVersion(ctx)
	if err != nil {
		return err
	}
	ev.DBVersion = version

	if step.ExpectUnchanged {
		after, err := e.Store().ChangesSince(ctx, store.ChangeQuery{})
		if err != nil {
			return err
		}
		if !samePage(before, after) {
			result.AddError(fmt.Sprintf("step %d (%s %s): expected state to be unchanged", i, ev.Kind, target))
		}
	}

	result.AddTrace(ev)
	h.logger.Info("step completed",
		"step", i,
		"kind", ev.Kind,
		"replica", target,
		"db_version", ev.DBVersion,
	)
	return nil
}

func (h *Harness) executeWrite(ctx context.Context, e *engine.Engine, ops []WriteOp) error {
	_, err := e.Transact(ctx, func(w *engine.WriteTx) error {
		for j, op := range ops {
			pk, err := convertValues(op.PK)
			if err != nil {
				return fmt.Errorf("op %d pk: %w", j, err)
			}
			switch op.Op {
			case "insert":
				values := make(map[string]ir.Value, len(op.Values))
				for col, raw := range op.Values {
					if values[col], err = convertValue(raw); err != nil {
						return fmt.Errorf("op %d column %s: %w", j, col, err)
					}
				}
				err = w.Insert(op.Table, pk, values)
			case "update":
				var v ir.Value
				if v, err = convertValue(op.Value); err != nil {
					return fmt.Errorf("op %d value: %w", j, err)
				}
				err = w.Update(op.Table, pk, op.Column, v)
			case "delete":
				err = w.Delete(op.Table, pk)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (h *Harness) executeSync(ctx context.Context, s *SyncStep, ev *TraceEvent) error {
	from, to := h.replicas[s.From], h.replicas[s.To]
	var opts []changestream.CursorOption
	if s.PageSize > 0 {
		opts = append(opts, changestream.WithPageSize(s.PageSize))
	}

	if s.Since == nil {
		res, err := changestream.Sync(ctx, from, to, opts...)
		ev.Shipped = res.Shipped
		ev.Accepted = res.Accepted
		ev.Rejected = res.Rejected
		ev.Noop = res.Noop
		return err
	}

	cs, err := changestream.Export(ctx, from, *s.Since, opts...)
	if err != nil {
		return err
	}
	ev.Shipped = len(cs.Changes)
	res, err := to.ApplyChanges(ctx, cs.Changes)
	countOutcomes(ev, res)
	return err
}

func (h *Harness) buildRecords(records []Record) ([]ir.Change, error) {
	out := make([]ir.Change, len(records))
	for i, r := range records {
		vals, err := convertValues(r.PK)
		if err != nil {
			return nil, fmt.Errorf("record %d pk: %w", i, err)
		}
		pk, err := ir.PackColumns(vals...)
		if err != nil {
			return nil, fmt.Errorf("record %d pk: %w", i, err)
		}
		v, err := convertValue(r.Value)
		if err != nil {
			return nil, fmt.Errorf("record %d value: %w", i, err)
		}
		out[i] = ir.Change{
			Table:      r.Table,
			PK:         pk,
			CID:        r.CID,
			Val:        v,
			ColVersion: r.ColVersion,
			DBVersion:  r.DBVersion,
			SiteID:     h.sites[r.Site],
			CL:         r.CL,
		}
	}
	return out, nil
}

// capture reads a replica's final state.
func (h *Harness) capture(ctx context.Context, name string) (ReplicaState, error) {
	e := h.replicas[name]
	state := ReplicaState{Rows: []RowState{}}

	var err error
	if state.DBVersion, err = e.Store().DBVersion(ctx); err != nil {
		return state, err
	}

	cs, err := changestream.Export(ctx, e, 0, changestream.WithPageSize(0))
	if err != nil {
		return state, err
	}
	if state.Digest, err = ir.StateDigest(cs.Changes); err != nil {
		return state, err
	}

	for _, table := range h.schema.Names() {
		rows, err := e.Store().Rows(ctx, table)
		if err != nil {
			return state, err
		}
		for _, r := range rows {
			pk, err := ir.UnpackColumns(r.PK)
			if err != nil {
				return state, err
			}
			state.Rows = append(state.Rows, RowState{Table: table, PK: pk, CL: r.CL, Values: r.Values})
		}
	}
	return state, nil
}

func (h *Harness) assertionContext(ctx context.Context) *AssertionContext {
	return &AssertionContext{
		Ctx:      ctx,
		Replicas: h.replicas,
		Sites:    h.sites,
	}
}

func stepTarget(step Step) string {
	switch {
	case step.Write != "":
		return step.Write
	case step.Sync != nil:
		return step.Sync.To
	default:
		return step.Apply
	}
}

func countOutcomes(ev *TraceEvent, res engine.ApplyResult) {
	ev.Accepted = res.Accepted
	ev.Rejected = res.Rejected
	ev.Noop = res.Noop
}

func samePage(a, b store.ChangePage) bool {
	if a.Through != b.Through {
		return false
	}
	return slices.EqualFunc(a.Changes, b.Changes, func(x, y ir.Change) bool {
		return x.Table == y.Table && string(x.PK) == string(y.PK) && x.CID == y.CID &&
			ir.Equal(x.Val, y.Val) && x.ColVersion == y.ColVersion && x.DBVersion == y.DBVersion &&
			string(x.SiteID) == string(y.SiteID) && x.CL == y.CL
	})
}

// errorClass maps a step error to the class named in scenarios.
func errorClass(err error) string {
	switch {
	case errors.Is(err, engine.ErrRowExists):
		return ErrClassRowExists
	case errors.Is(err, engine.ErrRowNotFound):
		return ErrClassRowNotFound
	case engine.IsIntegrityError(err):
		return ErrClassIntegrity
	case changestream.IsGapError(err):
		return ErrClassGap
	default:
		return ErrClassOther
	}
}

// convertValues converts YAML-parsed values to column values.
func convertValues(raw []any) ([]ir.Value, error) {
	out := make([]ir.Value, len(raw))
	for i, v := range raw {
		var err error
		if out[i], err = convertValue(v); err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return out, nil
}

// convertValue converts a YAML-parsed value to a column value.
// Blobs are written as {blob: <hex>}, the form they are rendered in.
func convertValue(raw any) (ir.Value, error) {
	if m, ok := raw.(map[string]any); ok {
		h, ok := m["blob"].(string)
		if !ok || len(m) != 1 {
			return nil, fmt.Errorf("unsupported object %v (want {blob: <hex>})", m)
		}
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("blob: %w", err)
		}
		return ir.Blob(b), nil
	}
	return ir.FromAny(raw)
}
