// Package schema describes the replicated tables a store accepts changes
// for and validates incoming change records against them.
package schema

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/roach88/crr/internal/ir"
)

// Validation failures. Callers classify with errors.Is.
var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	ErrMalformed     = errors.New("malformed record")
)

// Table is one replicated table: its primary key columns and the full
// ordered column list (primary key columns included).
type Table struct {
	Name    string   `json:"name"`
	PK      []string `json:"pk"`
	Columns []string `json:"columns"`
}

// NonPK returns the columns that carry replicated values, in declaration
// order. Primary key columns live in the packed pk, not in clocks.
func (t Table) NonPK() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !slices.Contains(t.PK, c) {
			out = append(out, c)
		}
	}
	return out
}

// HasValueColumn reports whether cid names a non-pk column of t.
func (t Table) HasValueColumn(cid string) bool {
	return slices.Contains(t.Columns, cid) && !slices.Contains(t.PK, cid)
}

// Validate checks the table definition itself.
func (t Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.PK) == 0 {
		return fmt.Errorf("table %s: primary key is required", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		switch {
		case c == "":
			return fmt.Errorf("table %s: empty column name", t.Name)
		case c == ir.SentinelCID:
			return fmt.Errorf("table %s: column name %q is reserved", t.Name, c)
		case seen[c]:
			return fmt.Errorf("table %s: duplicate column %q", t.Name, c)
		}
		seen[c] = true
	}
	for _, pk := range t.PK {
		if !seen[pk] {
			return fmt.Errorf("table %s: primary key column %q is not declared", t.Name, pk)
		}
	}
	if len(t.PK) > 255 {
		return fmt.Errorf("table %s: too many primary key columns", t.Name)
	}
	return nil
}

// Schema is the set of replicated tables, keyed by name.
type Schema struct {
	Tables map[string]Table
}

// New builds a schema from table definitions, validating each.
func New(tables ...Table) (*Schema, error) {
	s := &Schema{Tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.Tables[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		s.Tables[t.Name] = t
	}
	return s, nil
}

// Table returns the named table definition.
func (s *Schema) Table(name string) (Table, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// Names returns the table names in sorted order.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateChange checks that a change record is well formed for this
// schema. It never touches storage.
func (s *Schema) ValidateChange(c ir.Change) error {
	t, ok := s.Tables[c.Table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, c.Table)
	}

	vals, err := ir.UnpackColumns(c.PK)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(vals) != len(t.PK) {
		return fmt.Errorf("%w: pk has %d columns, table %s has %d", ErrMalformed, len(vals), t.Name, len(t.PK))
	}
	if c.CL < 1 {
		return fmt.Errorf("%w: causal length %d", ErrMalformed, c.CL)
	}
	if c.ColVersion < 1 {
		return fmt.Errorf("%w: col_version %d", ErrMalformed, c.ColVersion)
	}
	if c.DBVersion < 0 {
		return fmt.Errorf("%w: db_version %d", ErrMalformed, c.DBVersion)
	}
	// A counter at the int64 limit leaves no room for the next local write.
	for name, v := range map[string]int64{"cl": c.CL, "col_version": c.ColVersion, "db_version": c.DBVersion} {
		if v == math.MaxInt64 {
			return fmt.Errorf("%w: %s %d out of range", ErrMalformed, name, v)
		}
	}

	if c.IsSentinel() {
		if !ir.IsNull(c.Val) {
			return fmt.Errorf("%w: sentinel carries a value", ErrMalformed)
		}
		if c.ColVersion != c.CL {
			return fmt.Errorf("%w: sentinel col_version %d differs from cl %d", ErrMalformed, c.ColVersion, c.CL)
		}
		return nil
	}

	if !t.HasValueColumn(c.CID) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, c.Table, c.CID)
	}
	if !ir.IsAlive(c.CL) {
		return fmt.Errorf("%w: column record with tombstone cl %d", ErrMalformed, c.CL)
	}
	return nil
}

// PackKey packs primary key values for table, checking the arity.
func (s *Schema) PackKey(table string, vals ...ir.Value) ([]byte, error) {
	t, ok := s.Tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if len(vals) != len(t.PK) {
		return nil, fmt.Errorf("table %s: pk needs %d values, got %d", table, len(t.PK), len(vals))
	}
	return ir.PackColumns(vals...)
}
