package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/schema"
	"github.com/roach88/crr/internal/store"
)

func TestTransact_Insert(t *testing.T) {
	e := setupTestEngine(t, 1)
	version, err := e.Transact(context.Background(), func(w *WriteTx) error {
		return w.Insert("foo", []ir.Value{ir.Int(1)}, map[string]ir.Value{"b": ir.Text("x")})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	changes := changesOf(t, e)
	require.Len(t, changes, 3)

	assert.Equal(t, ir.SentinelCID, changes[0].CID)
	assert.Equal(t, int64(1), changes[0].CL)
	assert.Equal(t, int64(1), changes[0].ColVersion)

	assert.Equal(t, "b", changes[1].CID)
	assert.Equal(t, ir.Text("x"), changes[1].Val)
	assert.Equal(t, "c", changes[2].CID)
	assert.Equal(t, ir.Null{}, changes[2].Val, "missing columns default to null")

	for _, c := range changes {
		assert.Equal(t, int64(1), c.DBVersion)
		assert.Equal(t, e.SiteID(), c.SiteID)
	}
}

func TestTransact_InsertLiveRowFails(t *testing.T) {
	e := setupTestEngine(t, 1)
	insert(t, e, 1, nil)

	_, err := e.Transact(context.Background(), func(w *WriteTx) error {
		require.NoError(t, w.Insert("foo", []ir.Value{ir.Int(2)}, nil))
		return w.Insert("foo", []ir.Value{ir.Int(1)}, nil)
	})
	assert.ErrorIs(t, err, ErrRowExists)

	_, ok := rowOf(t, e, 2)
	assert.False(t, ok, "failed transaction applies nothing")
	version, err := e.Store().DBVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestTransact_UpdateBumpsColVersion(t *testing.T) {
	e := setupTestEngine(t, 1)
	insert(t, e, 1, nil)
	update(t, e, 1, "b", ir.Int(1))
	update(t, e, 1, "b", ir.Int(2))

	var b ir.Change
	for _, c := range changesOf(t, e) {
		if c.CID == "b" {
			b = c
		}
	}
	assert.Equal(t, int64(3), b.ColVersion)
	assert.Equal(t, int64(3), b.DBVersion)
	assert.Equal(t, ir.Int(2), b.Val)
}

func TestTransact_UpdateSameValueIsNoop(t *testing.T) {
	e := setupTestEngine(t, 1)
	insert(t, e, 1, map[string]ir.Value{"b": ir.Int(1)})

	version, err := e.Transact(context.Background(), func(w *WriteTx) error {
		return w.Update("foo", []ir.Value{ir.Int(1)}, "b", ir.Int(1))
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), version, "unchanged cell does not advance db_version")

	// Same number, different storage class, is a change.
	version, err = e.Transact(context.Background(), func(w *WriteTx) error {
		return w.Update("foo", []ir.Value{ir.Int(1)}, "b", ir.Real(1))
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestTransact_UpdateMissingRow(t *testing.T) {
	e := setupTestEngine(t, 1)
	_, err := e.Transact(context.Background(), func(w *WriteTx) error {
		return w.Update("foo", []ir.Value{ir.Int(1)}, "b", ir.Int(1))
	})
	assert.ErrorIs(t, err, ErrRowNotFound)

	insert(t, e, 1, nil)
	remove(t, e, 1)
	_, err = e.Transact(context.Background(), func(w *WriteTx) error {
		return w.Update("foo", []ir.Value{ir.Int(1)}, "b", ir.Int(1))
	})
	assert.ErrorIs(t, err, ErrRowNotFound, "tombstoned rows cannot be updated")
}

func TestTransact_Delete(t *testing.T) {
	e := setupTestEngine(t, 1)
	insert(t, e, 1, map[string]ir.Value{"b": ir.Int(1)})
	remove(t, e, 1)

	changes := changesOf(t, e)
	require.Len(t, changes, 1, "a tombstone keeps only its sentinel")
	assert.True(t, changes[0].IsDelete())
	assert.Equal(t, int64(2), changes[0].CL)
	assert.Equal(t, int64(2), changes[0].DBVersion)

	row, ok := rowOf(t, e, 1)
	require.True(t, ok)
	assert.Empty(t, row.Values)

	_, err := e.Transact(context.Background(), func(w *WriteTx) error {
		return w.Delete("foo", []ir.Value{ir.Int(1)})
	})
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestTransact_Resurrect(t *testing.T) {
	e := setupTestEngine(t, 1)
	insert(t, e, 1, map[string]ir.Value{"b": ir.Int(1)})
	update(t, e, 1, "b", ir.Int(2))
	remove(t, e, 1)
	insert(t, e, 1, map[string]ir.Value{"b": ir.Int(3)})

	row, ok := rowOf(t, e, 1)
	require.True(t, ok)
	assert.Equal(t, int64(3), row.CL)
	assert.Equal(t, ir.Int(3), row.Values["b"])

	for _, c := range changesOf(t, e) {
		if c.IsSentinel() {
			assert.Equal(t, int64(3), c.ColVersion)
			continue
		}
		assert.Equal(t, int64(1), c.ColVersion, "new epoch restarts col_version")
		assert.Equal(t, int64(3), c.CL)
	}
}

func TestTransact_SharesOneVersion(t *testing.T) {
	e := setupTestEngine(t, 1)
	version, err := e.Transact(context.Background(), func(w *WriteTx) error {
		for i := int64(1); i <= 3; i++ {
			if err := w.Insert("foo", []ir.Value{ir.Int(i)}, nil); err != nil {
				return err
			}
		}
		return w.Update("foo", []ir.Value{ir.Int(2)}, "c", ir.Text("z"))
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, c := range changesOf(t, e) {
		assert.Equal(t, int64(1), c.DBVersion)
	}
}

func TestTransact_FnErrorAppliesNothing(t *testing.T) {
	e := setupTestEngine(t, 1)
	boom := errors.New("boom")

	_, err := e.Transact(context.Background(), func(w *WriteTx) error {
		require.NoError(t, w.Insert("foo", []ir.Value{ir.Int(1)}, nil))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, changesOf(t, e))
}

func TestWriteTx_SchemaChecks(t *testing.T) {
	e := setupTestEngine(t, 1)
	_, err := e.Transact(context.Background(), func(w *WriteTx) error {
		assert.ErrorIs(t, w.Insert("nope", []ir.Value{ir.Int(1)}, nil), schema.ErrUnknownTable)
		assert.ErrorIs(t, w.Insert("foo", []ir.Value{ir.Int(1)}, map[string]ir.Value{"zzz": ir.Int(1)}), schema.ErrUnknownColumn)
		assert.ErrorIs(t, w.Insert("foo", []ir.Value{ir.Int(1)}, map[string]ir.Value{"a": ir.Int(1)}), schema.ErrUnknownColumn)
		assert.ErrorIs(t, w.Update("foo", []ir.Value{ir.Int(1)}, "zzz", ir.Int(1)), schema.ErrUnknownColumn)
		assert.ErrorIs(t, w.Delete("nope", []ir.Value{ir.Int(1)}), schema.ErrUnknownTable)
		assert.Error(t, w.Delete("foo", []ir.Value{ir.Int(1), ir.Int(2)}), "pk arity")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, changesOf(t, e))
}

func TestTransact_ConcurrentWriters(t *testing.T) {
	e := setupTestEngine(t, 1)
	const writers = 8

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := e.Transact(context.Background(), func(w *WriteTx) error {
				return w.Insert("foo", []ir.Value{ir.Int(id)}, nil)
			})
			errs <- err
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	version, err := e.Store().DBVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(writers), version, "every transaction gets its own version")

	rows, err := e.Store().Rows(context.Background(), "foo")
	require.NoError(t, err)
	assert.Len(t, rows, writers)
}

func TestTransact_VersionExhausted(t *testing.T) {
	e := setupTestEngine(t, 1)
	ctx := context.Background()
	require.NoError(t, e.Store().Update(ctx, func(tx *store.Tx) error {
		return tx.SetDBVersion(ctx, math.MaxInt64)
	}))

	version, err := e.Transact(ctx, func(w *WriteTx) error {
		return w.Insert("foo", []ir.Value{ir.Int(1)}, nil)
	})
	assert.ErrorIs(t, err, ErrVersionExhausted)
	assert.Zero(t, version)
	assert.Empty(t, changesOf(t, e))
}
