package ir

import (
	"bytes"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// changeTupleLen is the number of elements in the wire form of a Change.
const changeTupleLen = 8

// EncodeMsgpack writes a change as the 8-element array
// (table, pk, cid, val, col_version, db_version, site_id, cl).
func (c Change) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(changeTupleLen); err != nil {
		return err
	}
	if err := enc.EncodeString(c.Table); err != nil {
		return err
	}
	if err := enc.EncodeBytes(c.PK); err != nil {
		return err
	}
	if err := enc.EncodeString(c.CID); err != nil {
		return err
	}
	if err := encodeValue(enc, c.Val); err != nil {
		return err
	}
	if err := enc.EncodeInt(c.ColVersion); err != nil {
		return err
	}
	if err := enc.EncodeInt(c.DBVersion); err != nil {
		return err
	}
	if err := enc.EncodeBytes(c.SiteID); err != nil {
		return err
	}
	return enc.EncodeInt(c.CL)
}

// DecodeMsgpack reads the array form written by EncodeMsgpack.
func (c *Change) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != changeTupleLen {
		return fmt.Errorf("change tuple has %d elements, want %d", n, changeTupleLen)
	}

	var out Change
	if out.Table, err = dec.DecodeString(); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	if out.PK, err = dec.DecodeBytes(); err != nil {
		return fmt.Errorf("pk: %w", err)
	}
	if out.CID, err = dec.DecodeString(); err != nil {
		return fmt.Errorf("cid: %w", err)
	}
	if out.Val, err = decodeValue(dec); err != nil {
		return fmt.Errorf("val: %w", err)
	}
	if out.ColVersion, err = dec.DecodeInt64(); err != nil {
		return fmt.Errorf("col_version: %w", err)
	}
	if out.DBVersion, err = dec.DecodeInt64(); err != nil {
		return fmt.Errorf("db_version: %w", err)
	}
	if out.SiteID, err = dec.DecodeBytes(); err != nil {
		return fmt.Errorf("site_id: %w", err)
	}
	if out.CL, err = dec.DecodeInt64(); err != nil {
		return fmt.Errorf("cl: %w", err)
	}
	*c = out
	return nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		return enc.EncodeNil()
	case Int:
		return enc.EncodeInt(int64(val))
	case Real:
		return enc.EncodeFloat64(float64(val))
	case Text:
		return enc.EncodeString(string(val))
	case Blob:
		// EncodeBytes writes nil for a nil slice; an empty blob stays a blob.
		if val == nil {
			val = Blob{}
		}
		return enc.EncodeBytes(val)
	default:
		return fmt.Errorf("unsupported value %T", v)
	}
}

// decodeValue reads a value by its msgpack type code. bin must stay a
// Blob; the generic decoders hand it back as a string.
func decodeValue(dec *msgpack.Decoder) (Value, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case code == msgpcode.Nil:
		return Null{}, dec.DecodeNil()
	case msgpcode.IsBin(code):
		b, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		if b == nil {
			b = []byte{}
		}
		return Blob(b), nil
	case msgpcode.IsString(code):
		s, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		return Text(s), nil
	case code == msgpcode.Float || code == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return nil, err
		}
		return Real(f), nil
	}

	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// Changeset is a batch of changes shipped between replicas.
// Since and Until bound the sender's db_version range the batch covers:
// the receiver must have seen everything up to Since, and after applying
// the batch it has seen everything up to Until.
type Changeset struct {
	Sender  []byte   `json:"sender"`
	Since   int64    `json:"since"`
	Until   int64    `json:"until"`
	Changes []Change `json:"changes"`
}

// wireChangeset is the msgpack envelope of a Changeset.
type wireChangeset struct {
	Version string   `msgpack:"v"`
	Sender  []byte   `msgpack:"sender"`
	Since   int64    `msgpack:"since"`
	Until   int64    `msgpack:"until"`
	Changes []Change `msgpack:"changes"`
}

// EncodeChangeset serializes a changeset to its msgpack wire form.
func EncodeChangeset(cs Changeset) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteChangeset(&buf, cs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteChangeset streams a changeset to w.
func WriteChangeset(w io.Writer, cs Changeset) error {
	wire := wireChangeset{
		Version: WireVersion,
		Sender:  cs.Sender,
		Since:   cs.Since,
		Until:   cs.Until,
		Changes: cs.Changes,
	}
	if wire.Changes == nil {
		wire.Changes = []Change{}
	}
	if err := msgpack.NewEncoder(w).Encode(&wire); err != nil {
		return fmt.Errorf("encode changeset: %w", err)
	}
	return nil
}

// DecodeChangeset parses bytes produced by EncodeChangeset.
func DecodeChangeset(data []byte) (Changeset, error) {
	return ReadChangeset(bytes.NewReader(data))
}

// ReadChangeset reads one changeset from r.
func ReadChangeset(r io.Reader) (Changeset, error) {
	var wire wireChangeset
	if err := msgpack.NewDecoder(r).Decode(&wire); err != nil {
		return Changeset{}, fmt.Errorf("decode changeset: %w", err)
	}
	if wire.Version != WireVersion {
		return Changeset{}, fmt.Errorf("decode changeset: unsupported wire version %q", wire.Version)
	}
	cs := Changeset{Sender: wire.Sender, Since: wire.Since, Until: wire.Until, Changes: wire.Changes}
	if cs.Changes == nil {
		cs.Changes = []Change{}
	}
	if cs.Since > cs.Until {
		return Changeset{}, fmt.Errorf("decode changeset: since %d exceeds until %d", cs.Since, cs.Until)
	}
	return cs, nil
}
