package ir

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Column type tags used in packed primary keys.
const (
	packInteger byte = 1
	packReal    byte = 2
	packText    byte = 3
	packBlob    byte = 4
	packNull    byte = 5
)

// ErrMalformedPK is returned when packed primary key bytes cannot be decoded.
var ErrMalformedPK = errors.New("malformed packed primary key")

// PackColumns encodes primary key column values into the opaque, ordered
// byte form used as a row identity.
//
// Layout: one byte holding the column count, then for each column a type
// byte (n<<3 | type) followed by its payload:
//   - INTEGER: n minimal big-endian two's complement bytes
//   - REAL:    8 bytes IEEE-754 big-endian (n = 0)
//   - TEXT/BLOB: n big-endian bytes of length, then the data
//   - NULL:    no payload
//
// A single integer key 1 packs to 01 09 01.
func PackColumns(vals ...Value) ([]byte, error) {
	if len(vals) == 0 {
		return nil, fmt.Errorf("pack columns: no columns")
	}
	if len(vals) > math.MaxUint8 {
		return nil, fmt.Errorf("pack columns: %d columns exceeds %d", len(vals), math.MaxUint8)
	}

	out := []byte{byte(len(vals))}
	for i, v := range vals {
		switch val := v.(type) {
		case nil, Null:
			out = append(out, packNull)
		case Int:
			n := intLen(int64(val))
			out = append(out, byte(n<<3)|packInteger)
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(val))
			out = append(out, buf[8-n:]...)
		case Real:
			out = append(out, packReal)
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(float64(val)))
			out = append(out, buf[:]...)
		case Text:
			out = appendSized(out, packText, []byte(val))
		case Blob:
			out = appendSized(out, packBlob, val)
		default:
			return nil, fmt.Errorf("pack columns: column %d: unsupported value %T", i, v)
		}
	}
	return out, nil
}

// MustPack is like PackColumns but panics on error.
// Use only in tests or with values known to be packable.
func MustPack(vals ...Value) []byte {
	pk, err := PackColumns(vals...)
	if err != nil {
		panic(err)
	}
	return pk
}

// UnpackColumns decodes bytes produced by PackColumns.
func UnpackColumns(data []byte) ([]Value, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedPK)
	}
	count := int(data[0])
	rest := data[1:]
	vals := make([]Value, 0, count)

	for i := 0; i < count; i++ {
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: column %d missing", ErrMalformedPK, i)
		}
		tag := rest[0]
		n := int(tag >> 3)
		rest = rest[1:]

		switch tag & 0x07 {
		case packNull:
			vals = append(vals, Null{})
		case packInteger:
			if n < 1 || n > 8 || len(rest) < n {
				return nil, fmt.Errorf("%w: column %d integer width %d", ErrMalformedPK, i, n)
			}
			vals = append(vals, Int(readSigned(rest[:n])))
			rest = rest[n:]
		case packReal:
			if len(rest) < 8 {
				return nil, fmt.Errorf("%w: column %d real truncated", ErrMalformedPK, i)
			}
			vals = append(vals, Real(math.Float64frombits(binary.BigEndian.Uint64(rest[:8]))))
			rest = rest[8:]
		case packText, packBlob:
			if n > 8 || len(rest) < n {
				return nil, fmt.Errorf("%w: column %d length prefix", ErrMalformedPK, i)
			}
			size := readUnsigned(rest[:n])
			rest = rest[n:]
			if uint64(len(rest)) < size {
				return nil, fmt.Errorf("%w: column %d payload truncated", ErrMalformedPK, i)
			}
			payload := append([]byte(nil), rest[:size]...)
			rest = rest[size:]
			if tag&0x07 == packText {
				vals = append(vals, Text(payload))
			} else {
				vals = append(vals, Blob(payload))
			}
		default:
			return nil, fmt.Errorf("%w: column %d unknown type %d", ErrMalformedPK, i, tag&0x07)
		}
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPK, len(rest))
	}
	return vals, nil
}

func appendSized(out []byte, tag byte, data []byte) []byte {
	n := uintLen(uint64(len(data)))
	out = append(out, byte(n<<3)|tag)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(data)))
	out = append(out, buf[8-n:]...)
	return append(out, data...)
}

// intLen is the minimal number of bytes holding v in two's complement.
func intLen(v int64) int {
	for n := 1; n < 8; n++ {
		limit := int64(1) << (8*n - 1)
		if v >= -limit && v < limit {
			return n
		}
	}
	return 8
}

// uintLen is the minimal number of bytes holding v; zero needs none.
func uintLen(v uint64) int {
	n := 0
	for v > 0 {
		n++
		v >>= 8
	}
	return n
}

func readSigned(b []byte) int64 {
	var v int64
	if b[0]&0x80 != 0 {
		v = -1
	}
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func readUnsigned(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
