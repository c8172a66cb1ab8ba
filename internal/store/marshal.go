package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/markduk/portalmover/internal/record"
)

// marshalAttributes converts a record's attributes to canonical JSON TEXT
// for storage.
func marshalAttributes(r record.Record) (string, error) {
	data, err := record.MarshalAttributes(r)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord rebuilds a record from its stored columns. Numbers are
// decoded as json.Number so large integers keep their precision.
func unmarshalRecord(entity, id, attrs string) (record.Record, error) {
	var raw map[string]any
	if attrs != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(attrs)))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return record.Record{}, fmt.Errorf("unmarshal attributes of %s(%s): %w", entity, id, err)
		}
	}
	rec, err := record.DecodeRecord(map[string]any{
		"entity":     entity,
		"id":         id,
		"attributes": raw,
	})
	if err != nil {
		return record.Record{}, fmt.Errorf("unmarshal %s(%s): %w", entity, id, err)
	}
	return rec, nil
}
