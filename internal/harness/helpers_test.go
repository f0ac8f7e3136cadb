package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSchema = `tables: {
	foo: {
		pk: ["a"]
		columns: ["a", "b"]
	}
}
`

// writeSchema writes the foo(a pk, b) schema into dir.
func writeSchema(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "schema.cue")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0644))
	return path
}

// newScenario builds a two-replica scenario on a fresh schema file.
func newScenario(t *testing.T, steps []Step, assertions ...Assertion) *Scenario {
	t.Helper()
	return &Scenario{
		Name:        t.Name(),
		Description: "test scenario",
		Schema:      writeSchema(t, t.TempDir()),
		Replicas:    []string{"c1", "c2"},
		Steps:       steps,
		Assertions:  assertions,
	}
}

func insertOp(id, b any) WriteOp {
	return WriteOp{Op: "insert", Table: "foo", PK: []any{id}, Values: map[string]any{"b": b}}
}

func updateOp(id, b any) WriteOp {
	return WriteOp{Op: "update", Table: "foo", PK: []any{id}, Column: "b", Value: b}
}

func deleteOp(id any) WriteOp {
	return WriteOp{Op: "delete", Table: "foo", PK: []any{id}}
}

func int64Ptr(v int64) *int64 {
	return &v
}
