package record

import (
	"fmt"
	"slices"
	"unicode/utf16"

	"github.com/google/uuid"
)

// Value is a sealed interface over the attribute value kinds.
// Only Null, String, Int, Bool, ID, Ref and OptionSet implement it.
type Value interface {
	value()
	Kind() Kind
}

// Kind names a Value variant.
type Kind string

const (
	KindNull      Kind = "null"
	KindString    Kind = "string"
	KindInt       Kind = "int"
	KindBool      Kind = "bool"
	KindID        Kind = "id"
	KindRef       Kind = "ref"
	KindOptionSet Kind = "option"
)

// Null clears an attribute on write.
type Null struct{}

func (Null) value()     {}
func (Null) Kind() Kind { return KindNull }

// String is a text value.
type String string

func (String) value()     {}
func (String) Kind() Kind { return KindString }

// Int is an integer value. Always int64, floats are rejected at decode time.
type Int int64

func (Int) value()     {}
func (Int) Kind() Kind { return KindInt }

// Bool is a two-option value.
type Bool bool

func (Bool) value()     {}
func (Bool) Kind() Kind { return KindBool }

// ID is a bare identifier. Whether it names another record is decided by
// metadata or, failing that, by matching it against sibling record IDs.
type ID string

func (ID) value()     {}
func (ID) Kind() Kind { return KindID }

// Ref is a typed reference to another record.
type Ref struct {
	Entity string
	ID     string
}

func (Ref) value()     {}
func (Ref) Kind() Kind { return KindRef }

// Identity returns the identity the reference points at.
func (r Ref) Identity() Identity {
	return Identity{Entity: r.Entity, ID: r.ID}
}

// OptionSet is a choice value (state codes, status reasons, picklists).
type OptionSet int64

func (OptionSet) value()     {}
func (OptionSet) Kind() Kind { return KindOptionSet }

// NewID parses s as a GUID and returns it in canonical lowercase form.
func NewID(s string) (ID, error) {
	id, err := NormalizeID(s)
	if err != nil {
		return "", err
	}
	return ID(id), nil
}

// NewRef builds a typed reference, normalising the identifier.
func NewRef(entity, id string) (Ref, error) {
	if entity == "" {
		return Ref{}, fmt.Errorf("reference to %q has no entity", id)
	}
	norm, err := NormalizeID(id)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Entity: entity, ID: norm}, nil
}

// NormalizeID validates a GUID and returns its canonical lowercase form.
func NormalizeID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid identifier %q: %w", s, err)
	}
	return u.String(), nil
}

// IdentifierOf returns the identifier carried by v, if any.
// Both bare IDs and typed references carry one.
func IdentifierOf(v Value) (string, bool) {
	switch val := v.(type) {
	case ID:
		return string(val), true
	case Ref:
		return val.ID, true
	default:
		return "", false
	}
}

// Equal reports whether two values are the same kind and content.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// compareKeys orders strings by UTF-16 code units, the ordering canonical
// JSON requires. Go's native string comparison is UTF-8 byte order.
func compareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}
