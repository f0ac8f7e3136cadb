package changestream

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/ir"
	sites "github.com/roach88/crr/internal/testutil"
)

func TestCursor_Empty(t *testing.T) {
	e := setupReplica(t, 1)
	c := NewCursor(e, 0)

	page, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Equal(t, int64(0), c.Watermark())
}

func TestCursor_ResolvesLocalSite(t *testing.T) {
	e := setupReplica(t, 1)
	insertRow(t, e, 1, ir.Int(1))

	page, err := NewCursor(e, 0).Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page, 2)
	for _, c := range page {
		assert.Equal(t, sites.SiteID(1), c.SiteID)
	}
}

func TestCursor_PagesWholeVersions(t *testing.T) {
	e := setupReplica(t, 1)
	// Version 1 holds two rows (4 records); versions 2 and 3 one row each.
	write(t, e, func(w *engine.WriteTx) error {
		if err := w.Insert("foo", []ir.Value{ir.Int(1)}, nil); err != nil {
			return err
		}
		return w.Insert("foo", []ir.Value{ir.Int(2)}, nil)
	})
	insertRow(t, e, 3, ir.Int(3))
	insertRow(t, e, 4, ir.Int(4))

	ctx := context.Background()
	c := NewCursor(e, 0, WithPageSize(3))

	page, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, page, 4, "a version is never split")
	assert.Equal(t, int64(1), c.Watermark())

	page, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, int64(2), c.Watermark())

	page, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, int64(3), c.Watermark())

	page, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Equal(t, int64(3), c.Watermark())
}

func TestCursor_StreamOrder(t *testing.T) {
	e := setupReplica(t, 1)
	insertRow(t, e, 2, ir.Int(2))
	insertRow(t, e, 1, ir.Int(1))
	write(t, e, func(w *engine.WriteTx) error {
		return w.Delete("foo", []ir.Value{ir.Int(2)})
	})

	var got []ir.Change
	for ch, err := range NewCursor(e, 0, WithPageSize(1)).All(context.Background()) {
		require.NoError(t, err)
		got = append(got, ch)
	}
	// Row 2 was tombstoned at version 3: only its sentinel remains.
	type key struct {
		version int64
		pk      []byte
		cid     string
	}
	keys := make([]key, len(got))
	for i, ch := range got {
		keys[i] = key{ch.DBVersion, ch.PK, ch.CID}
	}
	assert.Equal(t, []key{
		{2, ir.MustPack(ir.Int(1)), ir.SentinelCID},
		{2, ir.MustPack(ir.Int(1)), "b"},
		{3, ir.MustPack(ir.Int(2)), ir.SentinelCID},
	}, keys)
	assert.True(t, got[len(got)-1].IsDelete())
}

func TestCursor_Resume(t *testing.T) {
	e := setupReplica(t, 1)
	ctx := context.Background()
	insertRow(t, e, 1, ir.Int(1))

	first := NewCursor(e, 0)
	_, err := first.Next(ctx)
	require.NoError(t, err)

	insertRow(t, e, 2, ir.Int(2))

	resumed := NewCursor(e, first.Watermark())
	page, err := resumed.Next(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)
	for _, c := range page {
		assert.Equal(t, int64(2), c.DBVersion)
	}

	again, err := first.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, page, again, "a live cursor picks up later writes")
}

func TestCursor_ExcludeSite(t *testing.T) {
	a := setupReplica(t, 1)
	b := setupReplica(t, 2)
	ctx := context.Background()

	insertRow(t, a, 1, ir.Int(1))
	cs, err := Export(ctx, a, 0)
	require.NoError(t, err)
	_, err = b.ApplyChanges(ctx, cs.Changes)
	require.NoError(t, err)
	insertRow(t, b, 2, ir.Int(2))

	c := NewCursor(b, 0, ExcludeSite(sites.SiteID(1)))
	page, err := c.Next(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)
	for _, ch := range page {
		assert.Equal(t, sites.SiteID(2), ch.SiteID)
	}
	assert.Equal(t, int64(2), c.Watermark())
}

func TestCursor_AllStopsEarly(t *testing.T) {
	e := setupReplica(t, 1)
	insertRow(t, e, 1, ir.Int(1))
	insertRow(t, e, 2, ir.Int(2))

	n := 0
	for _, err := range NewCursor(e, 0).All(context.Background()) {
		require.NoError(t, err)
		n++
		if n == 1 {
			break
		}
	}
	assert.Equal(t, 1, n)
}

func TestCursor_Metrics(t *testing.T) {
	e, m := setupReplicaWithMetrics(t, 1)
	insertRow(t, e, 1, ir.Int(1))

	_, err := NewCursor(e, 0).Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CursorRecordsTotal))
}

func TestExport(t *testing.T) {
	e := setupReplica(t, 1)
	insertRow(t, e, 1, ir.Int(1))
	insertRow(t, e, 2, ir.Int(2))

	cs, err := Export(context.Background(), e, 1, WithPageSize(1))
	require.NoError(t, err)
	assert.Equal(t, sites.SiteID(1), cs.Sender)
	assert.Equal(t, int64(1), cs.Since)
	assert.Equal(t, int64(2), cs.Until)
	assert.Len(t, cs.Changes, 2)
}

func TestExport_NothingNew(t *testing.T) {
	e := setupReplica(t, 1)
	insertRow(t, e, 1, ir.Int(1))

	cs, err := Export(context.Background(), e, 1)
	require.NoError(t, err)
	assert.NotNil(t, cs.Changes)
	assert.Empty(t, cs.Changes)
	assert.Equal(t, int64(1), cs.Until)
}
