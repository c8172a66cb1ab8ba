package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/markduk/portalmover/internal/record"
)

// CompileOData renders q as OData v4 system query options.
//
// Lookups filtered by a typed reference use the _<field>_value form the
// Web API exposes for lookup columns. Selected fields are emitted as given.
func CompileOData(q Query) (url.Values, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}

	opts := url.Values{}
	if len(q.Select) > 0 {
		opts.Set("$select", strings.Join(q.Select, ","))
	}
	if q.Filter != nil {
		filter, err := compileODataPredicate(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("compile filter: %w", err)
		}
		if filter != "" {
			opts.Set("$filter", filter)
		}
	}
	if q.OrderBy != "" {
		opts.Set("$orderby", q.OrderBy+" asc")
	}
	return opts, nil
}

func compileODataPredicate(p Predicate) (string, error) {
	switch pred := p.(type) {
	case Equals:
		return compileODataEquals(pred)
	case OnOrAfter:
		return fmt.Sprintf("%s ge %s", pred.Field, pred.Time.UTC().Format(time.RFC3339)), nil
	case And:
		var parts []string
		for _, sub := range pred.Predicates {
			s, err := compileODataPredicate(sub)
			if err != nil {
				return "", err
			}
			if s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 1 {
			for i, s := range parts {
				parts[i] = "(" + s + ")"
			}
		}
		return strings.Join(parts, " and "), nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileODataEquals(p Equals) (string, error) {
	switch v := p.Value.(type) {
	case record.Null:
		return p.Field + " eq null", nil
	case record.String:
		return fmt.Sprintf("%s eq '%s'", p.Field, strings.ReplaceAll(string(v), "'", "''")), nil
	case record.Int:
		return fmt.Sprintf("%s eq %d", p.Field, int64(v)), nil
	case record.OptionSet:
		return fmt.Sprintf("%s eq %d", p.Field, int64(v)), nil
	case record.Bool:
		return fmt.Sprintf("%s eq %s", p.Field, strconv.FormatBool(bool(v))), nil
	case record.ID:
		return fmt.Sprintf("%s eq %s", p.Field, string(v)), nil
	case record.Ref:
		return fmt.Sprintf("_%s_value eq %s", p.Field, v.ID), nil
	default:
		return "", fmt.Errorf("unsupported value type: %T", p.Value)
	}
}
