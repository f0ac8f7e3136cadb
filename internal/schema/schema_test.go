package schema

import (
	"errors"
	"math"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crr/internal/ir"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New(
		Table{Name: "foo", PK: []string{"a"}, Columns: []string{"a", "b", "c"}},
		Table{Name: "pair", PK: []string{"x", "y"}, Columns: []string{"x", "y", "v"}},
	)
	require.NoError(t, err)
	return s
}

func TestLoadFile(t *testing.T) {
	s, err := LoadFile("testdata/todos.cue")
	require.NoError(t, err)

	assert.Equal(t, []string{"tags", "todos"}, s.Names())
	todos, ok := s.Table("todos")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, todos.PK)
	assert.Equal(t, []string{"title", "done"}, todos.NonPK())

	tags, ok := s.Table("tags")
	require.True(t, ok)
	assert.Equal(t, []string{"color"}, tags.NonPK())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("testdata/nope.cue")
	assert.Error(t, err)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		contain string
	}{
		{"no tables", `other: 1`, "tables is required"},
		{"empty tables", `tables: {}`, "at least one table"},
		{"missing pk", `tables: t: columns: ["a"]`, "pk is required"},
		{"missing columns", `tables: t: pk: ["a"]`, "columns is required"},
		{"undeclared pk", `tables: t: { pk: ["z"], columns: ["a"] }`, "not declared"},
		{"reserved column", `tables: t: { pk: ["a"], columns: ["a", "-1"] }`, "reserved"},
		{"duplicate column", `tables: t: { pk: ["a"], columns: ["a", "a"] }`, "duplicate"},
		{"non-string column", `tables: t: { pk: ["a"], columns: ["a", 3] }`, "strings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "test.cue")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contain)
		})
	}
}

func TestCompileErrorCarriesPosition(t *testing.T) {
	_, err := Parse([]byte("tables: t: {\n\tpk: [\"z\"]\n\tcolumns: [\"a\"]\n}\n"), "pos.cue")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "tables.t", ce.Field)
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := Parse([]byte(`tables: {`), "bad.cue")
	assert.Error(t, err)
}

func TestCompileNormalizesIdentifiers(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString("tables: t: { pk: [\"café\"], columns: [\"café\", \"n\"] }")
	s, err := Compile(v)
	require.NoError(t, err)

	tbl, _ := s.Table("t")
	assert.Equal(t, []string{"caf\u00e9"}, tbl.PK)
	assert.Equal(t, []string{"n"}, tbl.NonPK())
}

func TestNewRejectsDuplicateTable(t *testing.T) {
	tbl := Table{Name: "t", PK: []string{"a"}, Columns: []string{"a"}}
	_, err := New(tbl, tbl)
	assert.Error(t, err)
}

func TestValidateChange(t *testing.T) {
	s := testSchema(t)
	pk := ir.MustPack(ir.Int(1))
	ok := ir.Change{Table: "foo", PK: pk, CID: "b", Val: ir.Int(1), ColVersion: 1, DBVersion: 1, CL: 1}
	sentinel := ir.Change{Table: "foo", PK: pk, CID: ir.SentinelCID, ColVersion: 2, DBVersion: 1, CL: 2}

	require.NoError(t, s.ValidateChange(ok))
	require.NoError(t, s.ValidateChange(sentinel))

	tests := []struct {
		name   string
		mutate func(*ir.Change)
		want   error
	}{
		{"unknown table", func(c *ir.Change) { c.Table = "nope" }, ErrUnknownTable},
		{"unknown column", func(c *ir.Change) { c.CID = "zzz" }, ErrUnknownColumn},
		{"pk column is not a value column", func(c *ir.Change) { c.CID = "a" }, ErrUnknownColumn},
		{"garbage pk", func(c *ir.Change) { c.PK = []byte{0x07} }, ErrMalformed},
		{"pk arity", func(c *ir.Change) { c.PK = ir.MustPack(ir.Int(1), ir.Int(2)) }, ErrMalformed},
		{"zero cl", func(c *ir.Change) { c.CL = 0 }, ErrMalformed},
		{"zero col_version", func(c *ir.Change) { c.ColVersion = 0 }, ErrMalformed},
		{"negative db_version", func(c *ir.Change) { c.DBVersion = -1 }, ErrMalformed},
		{"column with tombstone cl", func(c *ir.Change) { c.CL = 2 }, ErrMalformed},
		{"db_version at int64 limit", func(c *ir.Change) { c.DBVersion = math.MaxInt64 }, ErrMalformed},
		{"col_version at int64 limit", func(c *ir.Change) { c.ColVersion = math.MaxInt64 }, ErrMalformed},
		{"cl at int64 limit", func(c *ir.Change) { c.CL = math.MaxInt64 }, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ok
			tt.mutate(&c)
			assert.ErrorIs(t, s.ValidateChange(c), tt.want)
		})
	}

	t.Run("sentinel with value", func(t *testing.T) {
		c := sentinel
		c.Val = ir.Int(1)
		assert.ErrorIs(t, s.ValidateChange(c), ErrMalformed)
	})
	t.Run("sentinel col_version mismatch", func(t *testing.T) {
		c := sentinel
		c.ColVersion = 1
		assert.ErrorIs(t, s.ValidateChange(c), ErrMalformed)
	})
}

func TestPackKey(t *testing.T) {
	s := testSchema(t)
	pk, err := s.PackKey("pair", ir.Int(1), ir.Text("k"))
	require.NoError(t, err)
	vals, err := ir.UnpackColumns(pk)
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.Int(1), ir.Text("k")}, vals)

	_, err = s.PackKey("pair", ir.Int(1))
	assert.Error(t, err)
	_, err = s.PackKey("nope", ir.Int(1))
	assert.ErrorIs(t, err, ErrUnknownTable)
}
