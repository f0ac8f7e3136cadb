package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/crr/internal/changestream"
	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Step, ev.Kind, ev.Replica)
			if ev.From != "" {
				fmt.Fprintf(&buf, " <- %s", ev.From)
			}
			fmt.Fprintf(&buf, " db_version=%d\n", ev.DBVersion)
		}
	}
	return buf.String()
}

// AssertionContext provides replica access for assertions that read
// clocks.
type AssertionContext struct {
	Ctx      context.Context
	Replicas map[string]*engine.Engine
	Sites    map[string][]byte
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertConverged:
			err = assertConverged(result, a)
		case AssertRow:
			err = assertRow(result, a)
		case AssertRowAbsent:
			err = assertRowAbsent(result, a)
		case AssertDBVersion:
			err = assertDBVersion(result, a)
		case AssertClock:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: clock requires replica context", i)
			} else {
				err = assertClock(actx, result, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

// assertConverged checks that replicas hold identical state. With no
// replicas listed, every replica is compared.
func assertConverged(result *Result, a Assertion) error {
	names := a.Replicas
	if len(names) == 0 {
		for name := range result.State {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	if len(names) < 2 {
		return nil
	}

	first := result.State[names[0]]
	for _, name := range names[1:] {
		if result.State[name].Digest != first.Digest {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s state equals %s state", name, names[0]),
				Actual: fmt.Sprintf("%s has %s, %s has %s",
					names[0], describeRows(first.Rows), name, describeRows(result.State[name].Rows)),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

func assertRow(result *Result, a Assertion) error {
	row, found, err := findRow(result, a)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("%s has row %s%v", a.Replica, a.Table, a.PK),
			Actual:   "row not found",
			Trace:    result.Trace,
		}
	}

	if a.CL != 0 && row.CL != a.CL {
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("%s%v cl=%d", a.Table, a.PK, a.CL),
			Actual:   fmt.Sprintf("cl=%d", row.CL),
			Trace:    result.Trace,
		}
	}

	cols := make([]string, 0, len(a.Values))
	for col := range a.Values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		want, err := convertValue(a.Values[col])
		if err != nil {
			return fmt.Errorf("row assertion column %s: %w", col, err)
		}
		got, ok := row.Values[col]
		if !ok {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("%s%v.%s = %s", a.Table, a.PK, col, ir.FormatValue(want)),
				Actual:   "column has no value (tombstone?)",
				Trace:    result.Trace,
			}
		}
		if !ir.Equal(want, got) {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("%s%v.%s = %s", a.Table, a.PK, col, ir.FormatValue(want)),
				Actual:   ir.FormatValue(got),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertRowAbsent(result *Result, a Assertion) error {
	row, found, err := findRow(result, a)
	if err != nil {
		return err
	}
	if found {
		return &AssertionError{
			Type:     AssertRowAbsent,
			Expected: fmt.Sprintf("%s never saw %s%v", a.Replica, a.Table, a.PK),
			Actual:   fmt.Sprintf("row present with cl=%d", row.CL),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertDBVersion(result *Result, a Assertion) error {
	got := result.State[a.Replica].DBVersion
	if got != *a.DBVersion {
		return &AssertionError{
			Type:     AssertDBVersion,
			Expected: fmt.Sprintf("%s db_version=%d", a.Replica, *a.DBVersion),
			Actual:   fmt.Sprintf("db_version=%d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertClock checks the clock of one cell as the replica would send it.
func assertClock(actx *AssertionContext, result *Result, a Assertion) error {
	vals, err := convertValues(a.PK)
	if err != nil {
		return fmt.Errorf("clock assertion pk: %w", err)
	}
	pk, err := ir.PackColumns(vals...)
	if err != nil {
		return fmt.Errorf("clock assertion pk: %w", err)
	}

	cs, err := changestream.Export(actx.Ctx, actx.Replicas[a.Replica], 0, changestream.WithPageSize(0))
	if err != nil {
		return err
	}
	i := slices.IndexFunc(cs.Changes, func(c ir.Change) bool {
		return c.Table == a.Table && bytes.Equal(c.PK, pk) && c.CID == a.CID
	})
	if i < 0 {
		return &AssertionError{
			Type:     AssertClock,
			Expected: fmt.Sprintf("%s has a clock for %s%v.%s", a.Replica, a.Table, a.PK, a.CID),
			Actual:   "no clock",
			Trace:    result.Trace,
		}
	}
	c := cs.Changes[i]

	switch {
	case a.ColVersion != 0 && c.ColVersion != a.ColVersion,
		a.CL != 0 && c.CL != a.CL,
		a.Site != "" && !bytes.Equal(c.SiteID, actx.Sites[a.Site]):
		return &AssertionError{
			Type:     AssertClock,
			Expected: fmt.Sprintf("%s%v.%s col_version=%d cl=%d site=%s", a.Table, a.PK, a.CID, a.ColVersion, a.CL, a.Site),
			Actual:   fmt.Sprintf("col_version=%d cl=%d site=%s", c.ColVersion, c.CL, siteName(actx.Sites, c.SiteID)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func findRow(result *Result, a Assertion) (RowState, bool, error) {
	want, err := convertValues(a.PK)
	if err != nil {
		return RowState{}, false, fmt.Errorf("%s assertion pk: %w", a.Type, err)
	}
	for _, row := range result.State[a.Replica].Rows {
		if row.Table == a.Table && slices.EqualFunc(row.PK, want, ir.Equal) {
			return row, true, nil
		}
	}
	return RowState{}, false, nil
}

func describeRows(rows []RowState) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("%s%v cl=%d", r.Table, formatValues(r.PK), r.CL)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatValues(vals []ir.Value) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = ir.FormatValue(v)
	}
	return out
}

func siteName(sites map[string][]byte, site []byte) string {
	for name, s := range sites {
		if bytes.Equal(s, site) {
			return name
		}
	}
	return fmt.Sprintf("%x", site)
}
