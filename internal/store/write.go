package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/schema"
)

// ErrReadOnly is returned when a mutation is attempted inside View.
var ErrReadOnly = errors.New("store: write in read-only transaction")

// Tx is a store transaction handle. Every operation is keyed by
// (table, pk[, cid]); none spans rows.
type Tx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

// GetRowCL returns the row's causal length, or 0 if the row is unknown.
func (t *Tx) GetRowCL(ctx context.Context, table string, pk []byte) (int64, error) {
	var cl int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT cl FROM crr_rows WHERE tbl = ? AND pk = ?
	`, table, pk).Scan(&cl)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get row cl: %w", err)
	}
	return cl, nil
}

// SetRowCL records the row's causal length.
func (t *Tx) SetRowCL(ctx context.Context, table string, pk []byte, cl int64) error {
	err := t.exec(ctx, `
		INSERT INTO crr_rows (tbl, pk, cl) VALUES (?, ?, ?)
		ON CONFLICT(tbl, pk) DO UPDATE SET cl = excluded.cl
	`, table, pk, cl)
	if err != nil {
		return fmt.Errorf("set row cl: %w", err)
	}
	return nil
}

// GetClock returns the clock of one cell. found is false if the cell has
// no clock.
func (t *Tx) GetClock(ctx context.Context, table string, pk []byte, cid string) (ir.ClockEntry, bool, error) {
	var e ir.ClockEntry
	err := t.tx.QueryRowContext(ctx, `
		SELECT col_version, db_version, site_id
		FROM crr_clocks
		WHERE tbl = ? AND pk = ? AND cid = ?
	`, table, pk, cid).Scan(&e.ColVersion, &e.DBVersion, &e.SiteID)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ClockEntry{}, false, nil
	}
	if err != nil {
		return ir.ClockEntry{}, false, fmt.Errorf("get clock: %w", err)
	}
	return e, true, nil
}

// PutClock writes the clock of one cell. The row must already have a
// causal length (SetRowCL).
func (t *Tx) PutClock(ctx context.Context, table string, pk []byte, cid string, e ir.ClockEntry) error {
	err := t.exec(ctx, `
		INSERT INTO crr_clocks (tbl, pk, cid, col_version, db_version, site_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tbl, pk, cid) DO UPDATE SET
			col_version = excluded.col_version,
			db_version = excluded.db_version,
			site_id = excluded.site_id
	`, table, pk, cid, e.ColVersion, e.DBVersion, siteArg(e.SiteID))
	if err != nil {
		return fmt.Errorf("put clock %s: %w", cid, err)
	}
	return nil
}

// ClearNonSentinelClocks drops every column clock of the row, keeping the
// sentinel.
func (t *Tx) ClearNonSentinelClocks(ctx context.Context, table string, pk []byte) error {
	err := t.exec(ctx, `
		DELETE FROM crr_clocks WHERE tbl = ? AND pk = ? AND cid <> ?
	`, table, pk, ir.SentinelCID)
	if err != nil {
		return fmt.Errorf("clear clocks: %w", err)
	}
	return nil
}

// GetCell returns the stored value of one cell, Null if absent.
func (t *Tx) GetCell(ctx context.Context, table string, pk []byte, cid string) (ir.Value, error) {
	var raw any
	err := t.tx.QueryRowContext(ctx, `
		SELECT value FROM crr_cells WHERE tbl = ? AND pk = ? AND cid = ?
	`, table, pk, cid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Null{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cell: %w", err)
	}
	return scanValue(raw)
}

// PutCell writes the value of one cell.
func (t *Tx) PutCell(ctx context.Context, table string, pk []byte, cid string, v ir.Value) error {
	err := t.exec(ctx, `
		INSERT INTO crr_cells (tbl, pk, cid, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(tbl, pk, cid) DO UPDATE SET value = excluded.value
	`, table, pk, cid, valueArg(v))
	if err != nil {
		return fmt.Errorf("put cell %s: %w", cid, err)
	}
	return nil
}

// ClearCells drops every stored value of the row.
func (t *Tx) ClearCells(ctx context.Context, table string, pk []byte) error {
	if err := t.exec(ctx, `DELETE FROM crr_cells WHERE tbl = ? AND pk = ?`, table, pk); err != nil {
		return fmt.Errorf("clear cells: %w", err)
	}
	return nil
}

// DBVersion returns the replica's db_version clock.
func (t *Tx) DBVersion(ctx context.Context) (int64, error) {
	var v int64
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM crr_meta WHERE key = ?`, metaDBVersion).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("get db_version: %w", err)
	}
	return v, nil
}

// SetDBVersion advances the db_version clock. It never moves backwards.
func (t *Tx) SetDBVersion(ctx context.Context, v int64) error {
	err := t.exec(ctx, `
		UPDATE crr_meta SET value = MAX(value, ?) WHERE key = ?
	`, v, metaDBVersion)
	if err != nil {
		return fmt.Errorf("set db_version: %w", err)
	}
	return nil
}

// SetPeerWatermark records the highest db_version of the peer that this
// replica has fully applied.
func (t *Tx) SetPeerWatermark(ctx context.Context, site []byte, watermark int64) error {
	err := t.exec(ctx, `
		INSERT INTO crr_peers (site_id, watermark) VALUES (?, ?)
		ON CONFLICT(site_id) DO UPDATE SET watermark = excluded.watermark
	`, site, watermark)
	if err != nil {
		return fmt.Errorf("set peer watermark: %w", err)
	}
	return nil
}

// PeerWatermark returns the stored watermark for a peer, 0 if unknown.
func (t *Tx) PeerWatermark(ctx context.Context, site []byte) (int64, error) {
	var w int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT watermark FROM crr_peers WHERE site_id = ?
	`, site).Scan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get peer watermark: %w", err)
	}
	return w, nil
}

// RegisterTable persists a table definition. Re-registering an identical
// definition is a no-op; a changed definition is refused.
func (t *Tx) RegisterTable(ctx context.Context, tbl schema.Table) error {
	if err := tbl.Validate(); err != nil {
		return fmt.Errorf("register table: %w", err)
	}
	def, err := marshalTable(tbl)
	if err != nil {
		return fmt.Errorf("register table: %w", err)
	}

	var existing string
	err = t.tx.QueryRowContext(ctx, `SELECT definition FROM crr_tables WHERE name = ?`, tbl.Name).Scan(&existing)
	switch {
	case err == nil:
		if existing != def {
			return fmt.Errorf("register table %s: definition differs from registered %s", tbl.Name, existing)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("register table: %w", err)
	}

	if err := t.exec(ctx, `INSERT INTO crr_tables (name, definition) VALUES (?, ?)`, tbl.Name, def); err != nil {
		return fmt.Errorf("register table: %w", err)
	}
	return nil
}
