package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface over the column value domain.
// Only Null, Int, Real, Text, and Blob implement it, mirroring the storage
// classes of the underlying row store.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Null is the absent column value. A nil Value is treated as Null everywhere.
type Null struct{}

func (Null) irValue() {}

// Int is a 64-bit signed integer column value.
type Int int64

func (Int) irValue() {}

// Real is a 64-bit floating point column value.
type Real float64

func (Real) irValue() {}

// Text is a UTF-8 string column value.
type Text string

func (Text) irValue() {}

// Blob is an opaque byte string column value.
type Blob []byte

func (Blob) irValue() {}

// valueClass orders the storage classes for Compare.
// Int and Real share the numeric class.
func valueClass(v Value) int {
	switch v.(type) {
	case nil, Null:
		return 0
	case Int, Real:
		return 1
	case Text:
		return 2
	case Blob:
		return 3
	default:
		return 4
	}
}

// Compare imposes the total order used to break ties between concurrent
// writes with equal column versions:
//
//	Null < numeric < Text < Blob
//
// Int and Real compare numerically; when numerically equal an Int sorts
// before a Real. NaN sorts below every other Real. Text and Blob compare
// byte-wise.
func Compare(a, b Value) int {
	ca, cb := valueClass(a), valueClass(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case nil, Null:
		return 0
	case Int:
		switch bv := b.(type) {
		case Int:
			return compareInt(int64(av), int64(bv))
		case Real:
			return compareIntReal(int64(av), float64(bv))
		}
	case Real:
		switch bv := b.(type) {
		case Int:
			return -compareIntReal(int64(bv), float64(av))
		case Real:
			return compareReal(float64(av), float64(bv))
		}
	case Text:
		return strings.Compare(string(av), string(b.(Text)))
	case Blob:
		return bytes.Compare(av, b.(Blob))
	}
	return 0
}

// Equal reports whether two values are identical in type and content.
// Unlike Compare, Equal distinguishes -0.0 from 0.0 and NaN payloads.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil, Null:
		return IsNull(b)
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Real:
		bv, ok := b.(Real)
		return ok && math.Float64bits(float64(av)) == math.Float64bits(float64(bv))
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	case Blob:
		bv, ok := b.(Blob)
		return ok && bytes.Equal(av, bv)
	}
	return false
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	switch v.(type) {
	case nil, Null:
		return true
	}
	return false
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareReal(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareIntReal compares an integer with a float without losing precision
// for integers beyond 2^53.
func compareIntReal(i int64, r float64) int {
	if math.IsNaN(r) {
		return 1
	}
	if r < -9223372036854775808.0 {
		return 1
	}
	if r >= 9223372036854775808.0 {
		return -1
	}
	t := math.Trunc(r)
	if c := compareInt(i, int64(t)); c != 0 {
		return c
	}
	switch frac := r - t; {
	case frac > 0:
		return -1
	case frac < 0:
		return 1
	}
	// Numerically equal: Int sorts before Real.
	return -1
}

// FromAny converts a Go value into a Value.
// Accepts nil, Value, all integer kinds, floats, bool (stored as 0/1),
// string, and []byte. Unsigned values above MaxInt64 are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(val), nil
	case float32:
		return Real(val), nil
	case float64:
		return Real(val), nil
	case bool:
		if val {
			return Int(1), nil
		}
		return Int(0), nil
	case string:
		return Text(val), nil
	case []byte:
		return Blob(bytes.Clone(val)), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// ToAny converts a Value into its natural Go representation:
// nil, int64, float64, string, or []byte.
func ToAny(v Value) any {
	switch val := v.(type) {
	case Int:
		return int64(val)
	case Real:
		return float64(val)
	case Text:
		return string(val)
	case Blob:
		return []byte(val)
	default:
		return nil
	}
}

// FormatValue renders a value the way SQLite's quote() does:
// NULL, integers and reals bare, text single-quoted, blobs as X'..'.
func FormatValue(v Value) string {
	switch val := v.(type) {
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Real:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Text:
		return "'" + strings.ReplaceAll(string(val), "'", "''") + "'"
	case Blob:
		return "X'" + strings.ToUpper(hex.EncodeToString(val)) + "'"
	default:
		return "NULL"
	}
}

// ParseValue parses the literal syntax produced by FormatValue.
// Bare words that are not numbers or NULL are taken as text, which keeps
// command-line input terse.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, "null"):
		return Null{}, nil
	case len(s) >= 3 && (s[0] == 'X' || s[0] == 'x') && s[1] == '\'' && s[len(s)-1] == '\'':
		b, err := hex.DecodeString(s[2 : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("parse blob literal %q: %w", s, err)
		}
		return Blob(b), nil
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return Text(strings.ReplaceAll(s[1:len(s)-1], "''", "'")), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Real(f), nil
	}
	return Text(s), nil
}
