package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/schema"
	"github.com/roach88/crr/internal/store"
)

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

var opNames = [...]string{"insert", "update", "delete"}

func (k opKind) String() string { return opNames[k] }

type writeOp struct {
	kind   opKind
	table  schema.Table
	pk     []byte
	cid    string
	value  ir.Value
	values map[string]ir.Value
}

// WriteTx collects the local row operations of one transaction.
// Operations are checked against the schema as they are recorded and
// applied in order when the transaction function returns.
type WriteTx struct {
	schema *schema.Schema
	ops    []writeOp
}

// Insert creates a row, or resurrects a tombstoned one. Every non-pk
// column is written; columns missing from values are set to Null.
// Inserting over a live row fails with ErrRowExists.
func (w *WriteTx) Insert(table string, pk []ir.Value, values map[string]ir.Value) error {
	tbl, packed, err := w.resolve(table, pk)
	if err != nil {
		return err
	}
	for cid := range values {
		if !tbl.HasValueColumn(cid) {
			return fmt.Errorf("insert %s: %w: %s", table, schema.ErrUnknownColumn, cid)
		}
	}
	w.ops = append(w.ops, writeOp{kind: opInsert, table: tbl, pk: packed, values: values})
	return nil
}

// Update sets one column of a live row. Writing the value the cell already
// holds is not a mutation. Fails with ErrRowNotFound if the row is unknown
// or tombstoned.
func (w *WriteTx) Update(table string, pk []ir.Value, cid string, v ir.Value) error {
	tbl, packed, err := w.resolve(table, pk)
	if err != nil {
		return err
	}
	if !tbl.HasValueColumn(cid) {
		return fmt.Errorf("update %s: %w: %s", table, schema.ErrUnknownColumn, cid)
	}
	w.ops = append(w.ops, writeOp{kind: opUpdate, table: tbl, pk: packed, cid: cid, value: v})
	return nil
}

// Delete tombstones a live row. Fails with ErrRowNotFound if the row is
// unknown or already tombstoned.
func (w *WriteTx) Delete(table string, pk []ir.Value) error {
	tbl, packed, err := w.resolve(table, pk)
	if err != nil {
		return err
	}
	w.ops = append(w.ops, writeOp{kind: opDelete, table: tbl, pk: packed})
	return nil
}

func (w *WriteTx) resolve(table string, pk []ir.Value) (schema.Table, []byte, error) {
	tbl, ok := w.schema.Table(table)
	if !ok {
		return tbl, nil, fmt.Errorf("%w: %q", schema.ErrUnknownTable, table)
	}
	packed, err := w.schema.PackKey(table, pk...)
	if err != nil {
		return tbl, nil, err
	}
	return tbl, packed, nil
}

// Transact runs fn to collect local writes, then applies them all at one
// new db_version. Either every operation commits or none does.
//
// Returns the replica's db_version afterwards. A transaction whose
// operations change nothing does not advance the db_version.
func (e *Engine) Transact(ctx context.Context, fn func(*WriteTx) error) (int64, error) {
	sch, err := e.store.Tables(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schema: %w", err)
	}

	w := &WriteTx{schema: sch}
	if err := fn(w); err != nil {
		return 0, err
	}

	keys := make([]ir.RowKey, len(w.ops))
	for i, op := range w.ops {
		keys[i] = ir.RowKey{Table: op.table.Name, PK: string(op.pk)}
	}
	unlock := e.locks.lock(keys)
	defer unlock()

	var version int64
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		current, err := tx.DBVersion(ctx)
		if err != nil {
			return err
		}
		version = current
		if current == math.MaxInt64 {
			return ErrVersionExhausted
		}
		next := current + 1

		changed := false
		for _, op := range w.ops {
			did, err := e.applyLocal(ctx, tx, op, next)
			if err != nil {
				return fmt.Errorf("%s %s: %w", op.kind, ir.RowKey{Table: op.table.Name, PK: string(op.pk)}, err)
			}
			changed = changed || did
		}
		if !changed {
			return nil
		}
		version = next
		return tx.SetDBVersion(ctx, next)
	})
	if err != nil {
		return 0, err
	}

	for _, op := range w.ops {
		e.metrics.RecordLocalWrite(op.kind.String())
	}
	e.metrics.SetDBVersion(version)
	e.logger.Debug("local transaction committed",
		"ops", len(w.ops),
		"db_version", version,
	)
	return version, nil
}

// applyLocal performs one local operation at db_version v and reports
// whether it changed state.
func (e *Engine) applyLocal(ctx context.Context, tx *store.Tx, op writeOp, v int64) (bool, error) {
	table := op.table.Name
	cl, err := tx.GetRowCL(ctx, table, op.pk)
	if err != nil {
		return false, err
	}

	switch op.kind {
	case opInsert:
		if ir.IsAlive(cl) {
			return false, ErrRowExists
		}
		next := ir.NextCL(cl)
		if err := e.startEpoch(ctx, tx, table, op.pk, next, ir.ClockEntry{ColVersion: next, DBVersion: v}); err != nil {
			return false, err
		}
		for _, cid := range op.table.NonPK() {
			val, ok := op.values[cid]
			if !ok || val == nil {
				val = ir.Null{}
			}
			if err := e.putCell(ctx, tx, table, op.pk, cid, val, ir.ClockEntry{ColVersion: 1, DBVersion: v}); err != nil {
				return false, err
			}
		}
		return true, nil

	case opUpdate:
		if !ir.IsAlive(cl) {
			return false, ErrRowNotFound
		}
		clock, found, err := tx.GetClock(ctx, table, op.pk, op.cid)
		if err != nil {
			return false, err
		}
		cur, err := tx.GetCell(ctx, table, op.pk, op.cid)
		if err != nil {
			return false, err
		}
		val := op.value
		if val == nil {
			val = ir.Null{}
		}
		if found && ir.Equal(cur, val) {
			return false, nil
		}
		return true, e.putCell(ctx, tx, table, op.pk, op.cid, val, ir.ClockEntry{ColVersion: clock.ColVersion + 1, DBVersion: v})

	case opDelete:
		if !ir.IsAlive(cl) {
			return false, ErrRowNotFound
		}
		next := ir.NextCL(cl)
		return true, e.startEpoch(ctx, tx, table, op.pk, next, ir.ClockEntry{ColVersion: next, DBVersion: v})
	}
	return false, fmt.Errorf("unknown op %d", op.kind)
}
