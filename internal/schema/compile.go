package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Compile builds a Catalog from a CUE value holding top-level "entity" and
// "relationship" structs.
func Compile(v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var entities []Entity
	entVal := v.LookupPath(cue.ParsePath("entity"))
	if entVal.Exists() {
		iter, err := entVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			e, err := CompileEntity(iter.Value())
			if err != nil {
				return nil, err
			}
			entities = append(entities, *e)
		}
	}

	var rels []ManyToMany
	relVal := v.LookupPath(cue.ParsePath("relationship"))
	if relVal.Exists() {
		iter, err := relVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			r, err := CompileRelationship(iter.Value())
			if err != nil {
				return nil, err
			}
			rels = append(rels, *r)
		}
	}

	if len(entities) == 0 && len(rels) == 0 {
		return nil, &CompileError{
			Field:   "entity",
			Message: "no entities or relationships defined",
			Pos:     v.Pos(),
		}
	}

	return NewCatalog(entities, rels)
}

// CompileString compiles CUE source text. filename is used in positions.
func CompileString(src, filename string) (*Catalog, error) {
	ctx := cuecontext.New()
	return Compile(ctx.CompileString(src, cue.Filename(filename)))
}

// CompileEntity parses one entity struct. The logical name is the field
// label the struct sits under.
func CompileEntity(v cue.Value) (*Entity, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	e := &Entity{Labels: map[string]string{}}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		e.LogicalName = sels[len(sels)-1].Unquoted()
	}

	var err error
	if e.EntitySet, err = optionalString(v, "set"); err != nil {
		return nil, err
	}
	if e.PrimaryID, err = optionalString(v, "primaryId"); err != nil {
		return nil, err
	}

	if labels := v.LookupPath(cue.ParsePath("labels")); labels.Exists() {
		iter, err := labels.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			text, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			e.Labels[iter.Selector().Unquoted()] = text
		}
	}

	attrs := v.LookupPath(cue.ParsePath("attributes"))
	if !attrs.Exists() {
		return e, nil
	}
	iter, err := attrs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		a, err := compileAttribute(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		e.Attributes = append(e.Attributes, a)
	}
	return e, nil
}

func compileAttribute(name string, v cue.Value) (Attribute, error) {
	a := Attribute{Name: name}

	typ, err := optionalString(v, "type")
	if err != nil {
		return a, err
	}
	if typ == "" {
		return a, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("attribute %q has no type", name),
			Pos:     v.Pos(),
		}
	}
	a.Type = AttributeType(typ)
	if !validTypes[a.Type] {
		return a, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("attribute %q has unsupported type %q", name, typ),
			Pos:     v.LookupPath(cue.ParsePath("type")).Pos(),
		}
	}

	targets := v.LookupPath(cue.ParsePath("targets"))
	if !targets.Exists() {
		return a, nil
	}
	list, err := targets.List()
	if err != nil {
		return a, formatCUEError(err)
	}
	for list.Next() {
		t, err := list.Value().String()
		if err != nil {
			return a, formatCUEError(err)
		}
		a.Targets = append(a.Targets, t)
	}
	return a, nil
}

// CompileRelationship parses one many-to-many relationship struct. The
// schema name is the field label.
func CompileRelationship(v cue.Value) (*ManyToMany, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	r := &ManyToMany{}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		r.SchemaName = sels[len(sels)-1].Unquoted()
	}

	fields := []struct {
		name string
		dst  *string
	}{
		{"intersect", &r.IntersectEntity},
		{"entity1", &r.Entity1},
		{"entity1Attribute", &r.Entity1Attribute},
		{"entity2", &r.Entity2},
		{"entity2Attribute", &r.Entity2Attribute},
	}
	for _, f := range fields {
		s, err := optionalString(v, f.name)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, &CompileError{
				Field:   "relationship",
				Message: fmt.Sprintf("relationship %q: %s is required", r.SchemaName, f.name),
				Pos:     v.Pos(),
			}
		}
		*f.dst = s
	}
	return r, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
