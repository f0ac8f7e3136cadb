package harness

import (
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/crr/internal/ir"
)

// Snapshot renders a run as canonical JSON: the step trace and every
// replica's final rows. Site ids and digests are left out; the converged
// assertion covers digests.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"step":       ev.Step,
			"kind":       ev.Kind,
			"replica":    ev.Replica,
			"db_version": ev.DBVersion,
		}
		if ev.From != "" {
			m["from"] = ev.From
		}
		if ev.Ops != 0 {
			m["ops"] = ev.Ops
		}
		if ev.Shipped != 0 {
			m["shipped"] = ev.Shipped
		}
		if ev.Accepted != 0 {
			m["accepted"] = ev.Accepted
		}
		if ev.Rejected != 0 {
			m["rejected"] = ev.Rejected
		}
		if ev.Noop != 0 {
			m["noop"] = ev.Noop
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		trace[i] = m
	}

	names := make([]string, 0, len(result.State))
	for name := range result.State {
		names = append(names, name)
	}
	sort.Strings(names)

	replicas := make(map[string]any, len(names))
	for _, name := range names {
		state := result.State[name]
		rows := make([]any, len(state.Rows))
		for i, r := range state.Rows {
			pk := make([]any, len(r.PK))
			for j, v := range r.PK {
				pk[j] = v
			}
			values := make(map[string]any, len(r.Values))
			for col, v := range r.Values {
				values[col] = v
			}
			rows[i] = map[string]any{
				"table":  r.Table,
				"pk":     pk,
				"cl":     r.CL,
				"values": values,
			}
		}
		replicas[name] = map[string]any{
			"db_version": state.DBVersion,
			"rows":       rows,
		}
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario": name,
		"trace":    trace,
		"replicas": replicas,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}
