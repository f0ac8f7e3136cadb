package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/store"
	"github.com/roach88/crr/internal/testutil"
)

const testSchema = `tables: {
	foo: {
		pk: ["a"]
		columns: ["a", "b"]
	}
}
`

func writeSchemaFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "schema.cue")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0644))
	return path
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// initReplica creates a replica database with site id testutil.SiteID(site).
func initReplica(t *testing.T, dir, name string, site byte) string {
	t.Helper()
	db := filepath.Join(dir, name)
	schemaPath := filepath.Join(dir, "schema.cue")
	if _, err := os.Stat(schemaPath); err != nil {
		schemaPath = writeSchemaFile(t, dir)
	}

	opts := &InitOptions{
		RootOptions:     &RootOptions{Format: "text"},
		Database:        db,
		Schema:          schemaPath,
		SiteIDGenerator: engine.NewFixedGenerator(testutil.SiteID(site)),
	}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, runInit(opts, cmd))
	return db
}

// openEngine opens an initialized replica outside the CLI.
func openEngine(t *testing.T, db string) *engine.Engine {
	t.Helper()
	st, err := store.Open(db)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return engine.New(st)
}

func mustWrite(t *testing.T, db string, args ...string) {
	t.Helper()
	_, err := execute(t, NewWriteCommand(&RootOptions{Format: "text"}), append([]string{"--db", db}, args...)...)
	require.NoError(t, err)
}

// decodeData decodes the data payload of a JSON response into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)
	if v != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, v))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}
