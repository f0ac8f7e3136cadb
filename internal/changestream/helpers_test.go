package changestream

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/metrics"
	"github.com/roach88/crr/internal/schema"
	"github.com/roach88/crr/internal/store"
	"github.com/roach88/crr/internal/testutil"
)

func setupReplica(t *testing.T, site byte, opts ...engine.Option) *engine.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.db")
	s, err := store.Open(path, store.WithSiteID(testutil.SiteID(site)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sch, err := schema.New(schema.Table{Name: "foo", PK: []string{"a"}, Columns: []string{"a", "b"}})
	require.NoError(t, err)
	require.NoError(t, s.RegisterTables(context.Background(), sch))
	return engine.New(s, opts...)
}

func setupReplicaWithMetrics(t *testing.T, site byte) (*engine.Engine, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(hex.EncodeToString(testutil.SiteID(site)))
	return setupReplica(t, site, engine.WithMetrics(m)), m
}

// write runs one local transaction per call.
func write(t *testing.T, e *engine.Engine, fn func(w *engine.WriteTx) error) int64 {
	t.Helper()
	v, err := e.Transact(context.Background(), fn)
	require.NoError(t, err)
	return v
}

func insertRow(t *testing.T, e *engine.Engine, id int64, b ir.Value) int64 {
	t.Helper()
	return write(t, e, func(w *engine.WriteTx) error {
		return w.Insert("foo", []ir.Value{ir.Int(id)}, map[string]ir.Value{"b": b})
	})
}

func digest(t *testing.T, e *engine.Engine) string {
	t.Helper()
	cs, err := Export(context.Background(), e, 0)
	require.NoError(t, err)
	d, err := ir.StateDigest(cs.Changes)
	require.NoError(t, err)
	return d
}
