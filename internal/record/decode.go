package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a record file. YAML and JSON are both
// accepted since JSON parses as YAML.
type File struct {
	Records []map[string]any `yaml:"records"`
}

// DecodeFile reads records from a YAML or JSON document.
func DecodeFile(r io.Reader) ([]Record, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode record file: %w", err)
	}

	out := make([]Record, 0, len(f.Records))
	for i, raw := range f.Records {
		rec, err := DecodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("records[%d]: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeRecord converts a generic map (from JSON or YAML) into a Record.
func DecodeRecord(raw map[string]any) (Record, error) {
	entity, _ := raw["entity"].(string)
	id, _ := raw["id"].(string)
	for k := range raw {
		switch k {
		case "entity", "id", "attributes":
		default:
			return Record{}, fmt.Errorf("unknown record field %q", k)
		}
	}

	rec, err := New(entity, id)
	if err != nil {
		return Record{}, err
	}

	attrs, ok := raw["attributes"]
	if !ok || attrs == nil {
		return rec, nil
	}
	m, ok := attrs.(map[string]any)
	if !ok {
		return Record{}, fmt.Errorf("record %s: attributes must be an object, got %T", rec.Identity(), attrs)
	}
	for name, v := range m {
		val, err := DecodeValue(v)
		if err != nil {
			return Record{}, fmt.Errorf("record %s: attribute %q: %w", rec.Identity(), name, err)
		}
		rec.Attributes[name] = val
	}
	return rec, nil
}

// DecodeValue converts a generic decoded value into a Value.
//
// Objects carry the non-scalar kinds:
//
//	{id: <guid>}               bare identifier
//	{ref: <entity>, id: <guid>} typed reference
//	{option: <int>}            option-set value
func DecodeValue(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case float64, float32:
		return nil, fmt.Errorf("floats are not allowed: %v", val)
	case map[string]any:
		return decodeObject(val)
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

func decodeObject(m map[string]any) (Value, error) {
	if opt, ok := m["option"]; ok {
		if len(m) != 1 {
			return nil, fmt.Errorf("option value must have no other fields")
		}
		n, err := DecodeValue(opt)
		if err != nil {
			return nil, fmt.Errorf("option: %w", err)
		}
		i, ok := n.(Int)
		if !ok {
			return nil, fmt.Errorf("option must be an integer, got %s", n.Kind())
		}
		return OptionSet(i), nil
	}

	rawID, ok := m["id"].(string)
	if !ok {
		return nil, fmt.Errorf("object value needs an \"id\" or \"option\" field")
	}
	if entity, ok := m["ref"]; ok {
		if len(m) != 2 {
			return nil, fmt.Errorf("reference must have only \"ref\" and \"id\"")
		}
		name, ok := entity.(string)
		if !ok {
			return nil, fmt.Errorf("ref must be an entity name, got %T", entity)
		}
		return NewRef(name, rawID)
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("identifier must have only an \"id\" field")
	}
	return NewID(rawID)
}
