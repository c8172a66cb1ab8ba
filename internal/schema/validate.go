package schema

import (
	"fmt"
)

// Validation error codes (E200-E299).
const (
	ErrLookupNoTargets      = "E201" // lookup attribute without targets
	ErrUnknownTarget        = "E202" // lookup target not in catalog
	ErrUnknownRelated       = "E203" // relationship endpoint not in catalog
	ErrIntersectSelf        = "E204" // intersect entity equals an endpoint
	ErrDuplicateEntitySet   = "E205" // two entities share a collection name
	ErrDuplicateIntersect   = "E206" // two relationships share an intersect entity
	ErrIntersectAttrMissing = "E207" // declared intersect entity lacks a key column
)

// ValidationError describes one metadata problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks cross-references inside the catalog. It returns every
// problem found, sorted by entity and relationship name.
func Validate(c *Catalog) []ValidationError {
	var errs []ValidationError

	sets := map[string]string{}
	for _, e := range c.Entities() {
		if other, dup := sets[e.EntitySet]; dup {
			errs = append(errs, ValidationError{
				Field:   "entity." + e.LogicalName + ".set",
				Message: fmt.Sprintf("entity set %q already used by %s", e.EntitySet, other),
				Code:    ErrDuplicateEntitySet,
			})
		} else {
			sets[e.EntitySet] = e.LogicalName
		}

		for _, a := range e.Attributes {
			field := "entity." + e.LogicalName + ".attributes." + a.Name
			if a.Type == TypeLookup && len(a.Targets) == 0 {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "lookup attribute must name at least one target",
					Code:    ErrLookupNoTargets,
				})
			}
			for _, t := range a.Targets {
				if _, ok := c.Entity(t); !ok {
					errs = append(errs, ValidationError{
						Field:   field,
						Message: fmt.Sprintf("target entity %q is not defined", t),
						Code:    ErrUnknownTarget,
					})
				}
			}
		}
	}

	intersects := map[string]string{}
	for _, r := range c.Relationships() {
		field := "relationship." + r.SchemaName
		for _, ep := range []string{r.Entity1, r.Entity2} {
			if _, ok := c.Entity(ep); !ok {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("related entity %q is not defined", ep),
					Code:    ErrUnknownRelated,
				})
			}
		}
		if r.IntersectEntity == r.Entity1 || r.IntersectEntity == r.Entity2 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("intersect entity %q is also a related entity", r.IntersectEntity),
				Code:    ErrIntersectSelf,
			})
		}
		if other, dup := intersects[r.IntersectEntity]; dup {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("intersect entity %q already used by %s", r.IntersectEntity, other),
				Code:    ErrDuplicateIntersect,
			})
		} else {
			intersects[r.IntersectEntity] = r.SchemaName
		}

		if ie, ok := c.Entity(r.IntersectEntity); ok {
			for _, col := range []string{r.Entity1Attribute, r.Entity2Attribute} {
				if _, ok := ie.Attribute(col); !ok {
					errs = append(errs, ValidationError{
						Field:   field,
						Message: fmt.Sprintf("intersect entity %q has no attribute %q", r.IntersectEntity, col),
						Code:    ErrIntersectAttrMissing,
					})
				}
			}
		}
	}

	return errs
}
