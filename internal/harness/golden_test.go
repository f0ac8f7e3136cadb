package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// To regenerate golden files, run:
//
//	go test ./internal/harness -run TestRunWithGolden -update
func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"larger_cl_wins_all", "smaller_cl_loses_all", "pr_299"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join(scenarioDir, name+".yaml"))
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "larger_cl_wins_all.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	require.NoError(t, AssertGolden(t, scenario.Name, result))
}

func TestSnapshot_Format(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Step: 0, Kind: KindWrite, Replica: "a", Ops: 1, DBVersion: 1})
	result.AddTrace(TraceEvent{Step: 1, Kind: KindApply, Replica: "a", Shipped: 1, Error: ErrClassIntegrity, DBVersion: 1})
	result.State["a"] = ReplicaState{
		DBVersion: 1,
		Digest:    "ignored",
		Rows:      []RowState{},
	}

	got, err := Snapshot("fmt", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"replicas":{"a":{"db_version":1,"rows":[]}},"scenario":"fmt","trace":[`+
			`{"db_version":1,"kind":"write","ops":1,"replica":"a","step":0},`+
			`{"db_version":1,"error":"integrity","kind":"apply","replica":"a","shipped":1,"step":1}]}`,
		string(got))
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "concurrent_update_value_wins.yaml"))
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	first, err := Snapshot(scenario.Name, result)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Snapshot(scenario.Name, result)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
