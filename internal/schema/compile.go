package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/unicode/norm"
)

// CompileError is a schema authoring error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads and compiles a CUE schema file.
func LoadFile(path string) (*Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(src, path)
}

// Parse compiles CUE schema source. The source declares tables under a
// top-level "tables" struct:
//
//	tables: todos: {
//		pk:      ["id"]
//		columns: ["id", "title", "done"]
//	}
func Parse(src []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return Compile(v)
}

// Compile parses a CUE value holding a "tables" struct into a Schema.
// Identifiers are NFC normalized so visually identical names compare equal.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &CompileError{
			Field:   "tables",
			Message: "tables is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var tables []Table
	for iter.Next() {
		t, err := compileTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return nil, &CompileError{
			Field:   "tables",
			Message: "at least one table is required",
			Pos:     tablesVal.Pos(),
		}
	}

	s, err := New(tables...)
	if err != nil {
		return nil, &CompileError{Field: "tables", Message: err.Error(), Pos: tablesVal.Pos()}
	}
	return s, nil
}

func compileTable(name string, v cue.Value) (Table, error) {
	t := Table{Name: norm.NFC.String(name)}

	pk, err := stringList(v, "pk")
	if err != nil {
		return t, err
	}
	cols, err := stringList(v, "columns")
	if err != nil {
		return t, err
	}
	t.PK = pk
	t.Columns = cols

	if err := t.Validate(); err != nil {
		return t, &CompileError{
			Field:   "tables." + name,
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return t, nil
}

// stringList decodes a required list of identifiers.
func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}

	list, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   field,
				Message: "entries must be strings",
				Pos:     list.Value().Pos(),
			}
		}
		out = append(out, norm.NFC.String(s))
	}
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
