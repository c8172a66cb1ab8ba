package query

import (
	"fmt"
	"regexp"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every field name in q is a plain identifier. Field
// names end up inside OData expressions and SQLite JSON paths, so anything
// else is rejected.
func Validate(q Query) error {
	if !fieldPattern.MatchString(q.Entity) {
		return fmt.Errorf("invalid entity name %q", q.Entity)
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	for _, f := range q.Select {
		if !fieldPattern.MatchString(f) {
			return fmt.Errorf("invalid select field %q", f)
		}
	}
	if q.Filter == nil {
		return nil
	}
	return validatePredicate(q.Filter)
}

func validatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case Equals:
		if !fieldPattern.MatchString(pred.Field) {
			return fmt.Errorf("invalid filter field %q", pred.Field)
		}
		if pred.Value == nil {
			return fmt.Errorf("equals on %q has no value", pred.Field)
		}
	case OnOrAfter:
		if !fieldPattern.MatchString(pred.Field) {
			return fmt.Errorf("invalid filter field %q", pred.Field)
		}
	case And:
		for i, sub := range pred.Predicates {
			if err := validatePredicate(sub); err != nil {
				return fmt.Errorf("and[%d]: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
	return nil
}
