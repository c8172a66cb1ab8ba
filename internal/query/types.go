package query

import (
	"time"

	"github.com/markduk/portalmover/internal/record"
)

// Query retrieves records of one entity.
//
// Results are always ordered: OData by OrderBy ascending, SQL by staging
// sequence. An empty Select means every attribute.
type Query struct {
	Entity  string
	Select  []string
	Filter  Predicate
	OrderBy string
}

// Predicate is a filter condition. Sealed to this package.
type Predicate interface {
	predicateNode()
}

// Equals matches records whose field equals Value. For ID and Ref values
// the identifier is compared, so a lookup can be filtered by GUID alone.
type Equals struct {
	Field string
	Value record.Value
}

func (Equals) predicateNode() {}

// OnOrAfter matches records whose timestamp field is at or after Time.
type OnOrAfter struct {
	Field string
	Time  time.Time
}

func (OnOrAfter) predicateNode() {}

// And matches when every predicate matches. An empty And matches all.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
