package query

import (
	"fmt"
	"time"

	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/schema"
)

// Default attribute names used for scoping.
const (
	DefaultWebsiteAttribute  = "adx_websiteid"
	DefaultModifiedAttribute = "modifiedon"
)

// Filters scope retrieval to one portal website and to recent changes.
type Filters struct {
	WebsiteID         string
	ModifiedSince     time.Time
	WebsiteAttribute  string
	ModifiedAttribute string
}

func (f Filters) websiteAttr() string {
	if f.WebsiteAttribute != "" {
		return f.WebsiteAttribute
	}
	return DefaultWebsiteAttribute
}

func (f Filters) modifiedAttr() string {
	if f.ModifiedAttribute != "" {
		return f.ModifiedAttribute
	}
	return DefaultModifiedAttribute
}

// Build returns the retrieval query for one entity. The website filter is
// applied only to entities that declare the website attribute, and the
// modified-since filter only to entities declaring the modified attribute.
func Build(c *schema.Catalog, entity string, f Filters) (Query, error) {
	e, ok := c.Entity(entity)
	if !ok {
		return Query{}, fmt.Errorf("build query: unknown entity %q", entity)
	}

	q := Query{Entity: entity, OrderBy: e.PrimaryID}
	for _, a := range e.Attributes {
		q.Select = append(q.Select, a.Name)
	}

	var preds []Predicate
	if f.WebsiteID != "" {
		if a, ok := e.Attribute(f.websiteAttr()); ok {
			v, err := websiteValue(a, f.WebsiteID)
			if err != nil {
				return Query{}, fmt.Errorf("build query: website: %w", err)
			}
			preds = append(preds, Equals{Field: a.Name, Value: v})
		}
	}
	if !f.ModifiedSince.IsZero() {
		if _, ok := e.Attribute(f.modifiedAttr()); ok {
			preds = append(preds, OnOrAfter{Field: f.modifiedAttr(), Time: f.ModifiedSince})
		}
	}

	switch len(preds) {
	case 0:
	case 1:
		q.Filter = preds[0]
	default:
		q.Filter = And{Predicates: preds}
	}

	if err := Validate(q); err != nil {
		return Query{}, fmt.Errorf("build query: %w", err)
	}
	return q, nil
}

// websiteValue filters a lookup by typed reference and any other column by
// bare identifier.
func websiteValue(a schema.Attribute, id string) (record.Value, error) {
	if a.Type.IsReference() && len(a.Targets) > 0 {
		return record.NewRef(a.Targets[0], id)
	}
	return record.NewID(id)
}

// BuildAll returns one query per catalog entity, in entity name order.
func BuildAll(c *schema.Catalog, f Filters) ([]Query, error) {
	var out []Query
	for _, e := range c.Entities() {
		q, err := Build(c, e.LogicalName, f)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
