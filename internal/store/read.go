package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/schema"
)

// Tables loads every registered table definition as a schema.
// An empty store yields an empty schema.
func (t *Tx) Tables(ctx context.Context) (*schema.Schema, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT definition FROM crr_tables ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []schema.Table
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tbl, err := unmarshalTable(def)
		if err != nil {
			return nil, err
		}
		tables = append(tables, tbl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return schema.New(tables...)
}

// ChangeQuery selects a page of the change stream.
type ChangeQuery struct {
	// Since is the exclusive lower db_version bound.
	Since int64
	// Limit is a record budget. A page always holds whole db_versions, so
	// it may exceed Limit when one version alone does. Zero means no limit.
	Limit int
	// ExcludeSite drops records whose clock originated at this site.
	ExcludeSite []byte
}

// ChangePage is one page of the change stream.
type ChangePage struct {
	Changes []ir.Change
	// Through is the highest db_version the page fully covers. A cursor
	// resumes from here.
	Through int64
	// More reports whether records beyond Through exist.
	More bool
}

// ChangesSince returns local change records with db_version > q.Since in
// stream order: db_version ascending, then table, pk, the sentinel before
// the row's columns, then cid.
//
// Site ids are returned as stored: nil for records originated locally.
// Returns an empty slice (not nil) when there is nothing to send.
func (t *Tx) ChangesSince(ctx context.Context, q ChangeQuery) (ChangePage, error) {
	page := ChangePage{Changes: []ir.Change{}}

	current, err := t.DBVersion(ctx)
	if err != nil {
		return page, err
	}
	page.Through = max(current, q.Since)

	var siteFilter string
	args := []any{q.Since}
	if q.ExcludeSite != nil {
		siteFilter = " AND (c.site_id IS NULL OR c.site_id <> ?)"
		args = append(args, q.ExcludeSite)
	}

	if q.Limit > 0 {
		upTo, more, err := t.pageBound(ctx, q, siteFilter, args)
		if err != nil {
			return page, err
		}
		if more {
			page.Through = upTo
			page.More = true
		}
	}

	query := `
		SELECT c.tbl, c.pk, c.cid, cell.value, c.col_version, c.db_version, c.site_id, r.cl
		FROM crr_clocks c
		JOIN crr_rows r ON r.tbl = c.tbl AND r.pk = c.pk
		LEFT JOIN crr_cells cell ON cell.tbl = c.tbl AND cell.pk = c.pk AND cell.cid = c.cid
		WHERE c.db_version > ?` + siteFilter + ` AND c.db_version <= ?
		ORDER BY c.db_version ASC, c.tbl COLLATE BINARY ASC, c.pk ASC, c.cid <> '-1', c.cid COLLATE BINARY ASC
	`
	rows, err := t.tx.QueryContext(ctx, query, append(args, page.Through)...)
	if err != nil {
		return page, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c   ir.Change
			raw any
		)
		if err := rows.Scan(&c.Table, &c.PK, &c.CID, &raw, &c.ColVersion, &c.DBVersion, &c.SiteID, &c.CL); err != nil {
			return page, fmt.Errorf("scan change: %w", err)
		}
		if c.Val, err = scanValue(raw); err != nil {
			return page, err
		}
		page.Changes = append(page.Changes, c)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterate changes: %w", err)
	}
	return page, nil
}

// pageBound finds the last db_version that fits the record budget, never
// splitting a version. more is false when every remaining version fits.
func (t *Tx) pageBound(ctx context.Context, q ChangeQuery, siteFilter string, args []any) (int64, bool, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT c.db_version, COUNT(*)
		FROM crr_clocks c
		WHERE c.db_version > ?`+siteFilter+`
		GROUP BY c.db_version
		ORDER BY c.db_version ASC
	`, args...)
	if err != nil {
		return 0, false, fmt.Errorf("query page bound: %w", err)
	}
	defer rows.Close()

	var (
		total int
		upTo  int64
	)
	for rows.Next() {
		var (
			version int64
			n       int
		)
		if err := rows.Scan(&version, &n); err != nil {
			return 0, false, fmt.Errorf("scan page bound: %w", err)
		}
		if total > 0 && total+n > q.Limit {
			return upTo, true, nil
		}
		total += n
		upTo = version
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("iterate page bound: %w", err)
	}
	return upTo, false, nil
}

// Row is the visible state of one row.
type Row struct {
	Table  string
	PK     []byte
	CL     int64
	Values map[string]ir.Value
}

// Alive reports whether the row currently exists.
func (r Row) Alive() bool {
	return ir.IsAlive(r.CL)
}

// Rows returns every known row of table, tombstones included, ordered by
// pk. Values holds the stored cells; a tombstone has none.
func (t *Tx) Rows(ctx context.Context, table string) ([]Row, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT r.pk, r.cl, cell.cid, cell.value
		FROM crr_rows r
		LEFT JOIN crr_cells cell ON cell.tbl = r.tbl AND cell.pk = r.pk
		WHERE r.tbl = ?
		ORDER BY r.pk ASC, cell.cid COLLATE BINARY ASC
	`, table)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var (
			pk  []byte
			cl  int64
			cid sql.NullString
			raw any
		)
		if err := rows.Scan(&pk, &cl, &cid, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if len(out) == 0 || string(out[len(out)-1].PK) != string(pk) {
			out = append(out, Row{Table: table, PK: pk, CL: cl, Values: map[string]ir.Value{}})
		}
		if !cid.Valid {
			continue
		}
		v, err := scanValue(raw)
		if err != nil {
			return nil, err
		}
		out[len(out)-1].Values[cid.String] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Peers returns every known peer watermark keyed by hex site id.
func (t *Tx) Peers(ctx context.Context) (map[string]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT site_id, watermark FROM crr_peers`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			site []byte
			w    int64
		)
		if err := rows.Scan(&site, &w); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		out[fmt.Sprintf("%x", site)] = w
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return out, nil
}

// Peers returns every known peer watermark keyed by hex site id.
func (s *Store) Peers(ctx context.Context) (map[string]int64, error) {
	var out map[string]int64
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Peers(ctx)
		return err
	})
	return out, err
}

// Tables loads the registered schema.
func (s *Store) Tables(ctx context.Context) (*schema.Schema, error) {
	var sch *schema.Schema
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		sch, err = tx.Tables(ctx)
		return err
	})
	return sch, err
}

// RegisterTables persists table definitions in one transaction.
func (s *Store) RegisterTables(ctx context.Context, sch *schema.Schema) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, name := range sch.Names() {
			tbl, _ := sch.Table(name)
			if err := tx.RegisterTable(ctx, tbl); err != nil {
				return err
			}
		}
		return nil
	})
}

// ChangesSince reads one page of the change stream from a consistent
// snapshot.
func (s *Store) ChangesSince(ctx context.Context, q ChangeQuery) (ChangePage, error) {
	var page ChangePage
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		page, err = tx.ChangesSince(ctx, q)
		return err
	})
	return page, err
}

// Rows returns the rows of table (see Tx.Rows).
func (s *Store) Rows(ctx context.Context, table string) ([]Row, error) {
	var out []Row
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Rows(ctx, table)
		return err
	})
	return out, err
}

// PeerWatermark returns the stored watermark for a peer, 0 if unknown.
func (s *Store) PeerWatermark(ctx context.Context, site []byte) (int64, error) {
	var w int64
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		w, err = tx.PeerWatermark(ctx, site)
		return err
	})
	return w, err
}
