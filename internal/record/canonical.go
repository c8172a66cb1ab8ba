package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for a record.
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping
//  3. Strings are NFC normalised
//
// The result is stable across runs and is what ContentHash digests.
func MarshalCanonical(r Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"attributes":`)
	if err := writeAttributes(&buf, r); err != nil {
		return nil, fmt.Errorf("record %s: %w", r.Identity(), err)
	}
	buf.WriteString(`,"entity":`)
	if err := writeString(&buf, r.Entity); err != nil {
		return nil, err
	}
	buf.WriteString(`,"id":`)
	if err := writeString(&buf, r.ID); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalAttributes produces canonical JSON for the attribute map only.
func MarshalAttributes(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeAttributes(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalValue produces canonical JSON for one value.
func MarshalValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAttributes(buf *bytes.Buffer, r Record) error {
	buf.WriteByte('{')
	for i, k := range r.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := writeValue(buf, r.Attributes[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		return writeString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case ID:
		buf.WriteString(`{"id":`)
		if err := writeString(buf, string(val)); err != nil {
			return err
		}
		buf.WriteByte('}')
	case Ref:
		buf.WriteString(`{"id":`)
		if err := writeString(buf, val.ID); err != nil {
			return err
		}
		buf.WriteString(`,"ref":`)
		if err := writeString(buf, val.Entity); err != nil {
			return err
		}
		buf.WriteByte('}')
	case OptionSet:
		buf.WriteString(`{"option":`)
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value type: %T", v)
	}
	return nil
}

// writeString writes s as a JSON string after NFC normalisation, without
// HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// MarshalJSON implements json.Marshaler using the canonical encoding.
func (r Record) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(r)
}

// UnmarshalJSON implements json.Unmarshaler. Floats are rejected.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	rec, err := DecodeRecord(raw)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}
