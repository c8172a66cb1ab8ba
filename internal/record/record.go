package record

import (
	"fmt"
	"slices"
)

// Identity names a record: entity logical name plus identifier.
type Identity struct {
	Entity string `json:"entity" yaml:"entity"`
	ID     string `json:"id" yaml:"id"`
}

// String renders the identity as entity(id).
func (i Identity) String() string {
	return fmt.Sprintf("%s(%s)", i.Entity, i.ID)
}

// Compare orders identities by entity then ID.
func (i Identity) Compare(o Identity) int {
	if c := compareKeys(i.Entity, o.Entity); c != 0 {
		return c
	}
	return compareKeys(i.ID, o.ID)
}

// Record is one row to be written to the remote store.
//
// The engine removes and adds attributes while importing, but the identity
// never changes. Use New to build a record with a validated identifier.
type Record struct {
	Entity     string
	ID         string
	Attributes map[string]Value
}

// New creates a record with a normalised identifier and no attributes.
func New(entity, id string) (Record, error) {
	if entity == "" {
		return Record{}, fmt.Errorf("record %q has no entity", id)
	}
	norm, err := NormalizeID(id)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: %w", entity, err)
	}
	return Record{Entity: entity, ID: norm, Attributes: map[string]Value{}}, nil
}

// Identity returns the record's identity.
func (r Record) Identity() Identity {
	return Identity{Entity: r.Entity, ID: r.ID}
}

// Ref returns a typed reference to this record.
func (r Record) Ref() Ref {
	return Ref{Entity: r.Entity, ID: r.ID}
}

// Clone returns a copy whose attribute map can be mutated independently.
func (r Record) Clone() Record {
	attrs := make(map[string]Value, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	return Record{Entity: r.Entity, ID: r.ID, Attributes: attrs}
}

// Partial returns a record with the same identity and no attributes.
func (r Record) Partial() Record {
	return Record{Entity: r.Entity, ID: r.ID, Attributes: map[string]Value{}}
}

// Set assigns an attribute, allocating the map on first use.
func (r *Record) Set(name string, v Value) {
	if r.Attributes == nil {
		r.Attributes = map[string]Value{}
	}
	r.Attributes[name] = v
}

// Get returns an attribute value.
func (r Record) Get(name string) (Value, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

// Remove deletes the named attributes and returns the removed values.
func (r *Record) Remove(names ...string) map[string]Value {
	removed := map[string]Value{}
	for _, n := range names {
		if v, ok := r.Attributes[n]; ok {
			removed[n] = v
			delete(r.Attributes, n)
		}
	}
	return removed
}

// SortedKeys returns attribute names in canonical order.
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// SortIdentities sorts identities in place by entity then ID.
func SortIdentities(ids []Identity) {
	slices.SortFunc(ids, Identity.Compare)
}
