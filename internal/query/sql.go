package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/markduk/portalmover/internal/record"
)

// StagingTable is the SQLite table staged records live in.
const StagingTable = "staged_records"

// SQLCompiler compiles queries to parameterized SQLite over the staging
// table. Attributes are stored as canonical JSON, so predicates compile to
// json_extract calls.
//
// Every query is ordered by staging sequence so records come back in the
// order they were staged. Values are always parameters, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts q to (sql, params). The selected columns are always
// entity, record_id, attributes; q.Select is applied after decoding.
func (c *SQLCompiler) Compile(q Query) (string, []any, error) {
	if err := Validate(q); err != nil {
		return "", nil, err
	}

	where := []string{"entity = ?"}
	params := []any{q.Entity}
	if q.Filter != nil {
		sql, p, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		if sql != "" {
			where = append(where, sql)
			params = append(params, p...)
		}
	}

	sql := fmt.Sprintf("SELECT entity, record_id, attributes FROM %s WHERE %s ORDER BY seq ASC",
		StagingTable, strings.Join(where, " AND "))
	return sql, params, nil
}

func (c *SQLCompiler) compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return c.compileEquals(pred)
	case OnOrAfter:
		return fmt.Sprintf("json_extract(attributes, '%s') >= ?", jsonPath(pred.Field, "")),
			[]any{pred.Time.UTC().Format(time.RFC3339)}, nil
	case And:
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			s, p, err := c.compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if s == "" {
				continue
			}
			parts = append(parts, "("+s+")")
			params = append(params, p...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileEquals(p Equals) (string, []any, error) {
	extract := func(sub string) string {
		return fmt.Sprintf("json_extract(attributes, '%s') = ?", jsonPath(p.Field, sub))
	}
	switch v := p.Value.(type) {
	case record.Null:
		return fmt.Sprintf("json_type(attributes, '%s') = 'null'", jsonPath(p.Field, "")), nil, nil
	case record.String:
		return extract(""), []any{string(v)}, nil
	case record.Int:
		return extract(""), []any{int64(v)}, nil
	case record.Bool:
		// json_extract yields 1/0 for JSON booleans.
		n := 0
		if v {
			n = 1
		}
		return extract(""), []any{n}, nil
	case record.OptionSet:
		return extract("option"), []any{int64(v)}, nil
	case record.ID:
		return extract("id"), []any{string(v)}, nil
	case record.Ref:
		return extract("id"), []any{v.ID}, nil
	default:
		return "", nil, fmt.Errorf("unsupported value type: %T", p.Value)
	}
}

// jsonPath builds a SQLite JSON path for an attribute, optionally into the
// object encoding of identifiers and option sets. Field names are already
// validated as identifiers.
func jsonPath(field, sub string) string {
	if sub == "" {
		return fmt.Sprintf(`$."%s"`, field)
	}
	return fmt.Sprintf(`$."%s".%s`, field, sub)
}
