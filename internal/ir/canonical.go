package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 style canonical JSON.
// It is the only serialization used for golden snapshots and digests.
//
// Key differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Object keys are NFC normalized; string values are kept byte-exact
//  4. Blobs and []byte render as lowercase hex strings, Blob values as
//     {"blob": "<hex>"} so they never collide with Text
//  5. Reals always carry a fraction or exponent; NaN and Inf are rejected
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Real:
		s, err := formatCanonicalReal(float64(val))
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case Text:
		writeCanonicalString(buf, string(val))
	case Blob:
		buf.WriteString(`{"blob":`)
		writeCanonicalString(buf, hex.EncodeToString(val))
		buf.WriteByte('}')
	case Change:
		return marshalCanonical(buf, val.canonicalMap())
	case string:
		writeCanonicalString(buf, val)
	case []byte:
		if val == nil {
			buf.WriteString("null")
			return nil
		}
		writeCanonicalString(buf, hex.EncodeToString(val))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case float64, float32:
		return fmt.Errorf("bare floats are forbidden in canonical JSON: %v (wrap in ir.Real)", val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case []Change:
		items := make([]any, len(val))
		for i, c := range val {
			items[i] = c
		}
		return marshalCanonical(buf, items)
	case map[string]any:
		return marshalCanonicalObject(buf, val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// canonicalMap is the JSON object form of a change record.
func (c Change) canonicalMap() map[string]any {
	return map[string]any{
		"table":       c.Table,
		"pk":          c.PK,
		"cid":         c.CID,
		"val":         c.Val,
		"col_version": c.ColVersion,
		"db_version":  c.DBVersion,
		"site_id":     c.SiteID,
		"cl":          c.CL,
	}
}

// MarshalJSON renders a change in canonical form so JSON output from the
// CLI and golden files agree byte for byte.
func (c Change) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(c)
}

func formatCanonicalReal(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite real is not representable in JSON: %v", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s, nil
}

func marshalCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return compareKeysRFC8785(norm.NFC.String(a), norm.NFC.String(b))
	})

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeCanonicalString(buf, norm.NFC.String(k))
		buf.WriteByte(':')
		if err := marshalCanonical(buf, obj[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalString escapes only what RFC 8785 requires: quote,
// backslash, and control characters. HTML characters, U+2028 and U+2029
// pass through literally.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	const hexDigits = "0123456789abcdef"
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c == '\b':
			buf.WriteString(`\b`)
		case c == '\f':
			buf.WriteString(`\f`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785. Go's string comparison uses UTF-8 bytes, which
// orders supplementary-plane characters differently.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}
