package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/schema"
)

var testSite = []byte{0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01}

// createTestStore creates a new store in a temp dir with table foo(a pk, b, c).
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithSiteID(testSite))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	sch, err := schema.New(schema.Table{Name: "foo", PK: []string{"a"}, Columns: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("schema.New() failed: %v", err)
	}
	if err := s.RegisterTables(context.Background(), sch); err != nil {
		t.Fatalf("RegisterTables() failed: %v", err)
	}
	return s
}

// putRow writes a live row with one column directly, bypassing the engine.
func putRow(t *testing.T, s *Store, pk []byte, cl, dbVersion int64, cid string, v ir.Value) {
	t.Helper()
	ctx := context.Background()
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.SetRowCL(ctx, "foo", pk, cl); err != nil {
			return err
		}
		if err := tx.PutClock(ctx, "foo", pk, ir.SentinelCID, ir.ClockEntry{ColVersion: cl, DBVersion: dbVersion}); err != nil {
			return err
		}
		if cid != "" {
			if err := tx.PutClock(ctx, "foo", pk, cid, ir.ClockEntry{ColVersion: 1, DBVersion: dbVersion}); err != nil {
				return err
			}
			if err := tx.PutCell(ctx, "foo", pk, cid, v); err != nil {
				return err
			}
		}
		return tx.SetDBVersion(ctx, dbVersion)
	})
	if err != nil {
		t.Fatalf("putRow failed: %v", err)
	}
}
