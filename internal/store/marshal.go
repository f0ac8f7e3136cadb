package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/schema"
)

// valueArg converts a column value to a driver argument that keeps its
// storage class. An empty blob must not collapse to NULL.
func valueArg(v ir.Value) any {
	switch val := v.(type) {
	case ir.Blob:
		if val == nil {
			return []byte{}
		}
		return []byte(val)
	default:
		return ir.ToAny(v)
	}
}

// scanValue converts a scanned driver value back into a column value.
func scanValue(raw any) (ir.Value, error) {
	v, err := ir.FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("scan value: %w", err)
	}
	return v, nil
}

// siteArg stores the local site as NULL.
func siteArg(site []byte) any {
	if site == nil {
		return nil
	}
	return site
}

// marshalTable converts a table definition to canonical JSON TEXT for
// storage so identical definitions compare equal byte for byte.
func marshalTable(t schema.Table) (string, error) {
	pk := make([]any, len(t.PK))
	for i, c := range t.PK {
		pk[i] = c
	}
	cols := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c
	}
	data, err := ir.MarshalCanonical(map[string]any{
		"name":    t.Name,
		"pk":      pk,
		"columns": cols,
	})
	if err != nil {
		return "", fmt.Errorf("marshal table: %w", err)
	}
	return string(data), nil
}

// unmarshalTable parses a stored table definition.
func unmarshalTable(data string) (schema.Table, error) {
	var t schema.Table
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return t, fmt.Errorf("unmarshal table: %w", err)
	}
	return t, nil
}
