package importer

import (
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/schema"
)

// OwnerAttributes are stripped before every write. Ownership is assigned by
// the target environment, not carried over from the source.
var OwnerAttributes = []string{"ownerid", "owninguser", "owningteam", "owningbusinessunit"}

const (
	StateAttribute  = "statecode"
	StatusAttribute = "statuscode"
)

// batchRefs returns the references of rec that point at a record in the
// snapshot, keyed by attribute. Typed references and bare identifiers on
// declared lookup attributes are checked against metadata first. A bare
// identifier on an attribute the metadata does not describe at all falls
// back to matching the raw value against the IDs of other snapshot
// members; the match comes back as a typed reference to that member.
// Intersect rows never take the fallback: their identifiers name the
// records to link, not references to write.
//
// A declared reference to rec itself counts: the record must exist before
// it can point at itself. The raw fallback never matches rec's own ID.
func batchRefs(rec record.Record, c *schema.Catalog, snap *Snapshot) map[string]record.Value {
	refs := map[string]record.Value{}
	self := rec.Identity()
	rawMatch := !intersectRow(rec, c)
	for _, name := range rec.SortedKeys() {
		if isOwnerAttribute(name) {
			continue
		}
		switch v := rec.Attributes[name].(type) {
		case record.Ref:
			if snap.Contains(v.Identity()) {
				refs[name] = v
			}
		case record.ID:
			if targets, ok := lookupTargets(c, rec.Entity, name); ok {
				for _, t := range targets {
					if snap.Contains(record.Identity{Entity: t, ID: string(v)}) {
						refs[name] = record.Ref{Entity: t, ID: string(v)}
						break
					}
				}
				continue
			}
			if !rawMatch || !undeclared(c, rec.Entity, name) {
				continue
			}
			if other, ok := snap.Other(self, string(v)); ok {
				refs[name] = record.Ref{Entity: other.Entity, ID: other.ID}
			}
		}
	}
	return refs
}

func lookupTargets(c *schema.Catalog, entity, attr string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	return c.LookupTargets(entity, attr)
}

// undeclared reports whether the metadata knows nothing about attr on
// entity, either because there is no catalog or no such entity or
// attribute.
func undeclared(c *schema.Catalog, entity, attr string) bool {
	if c == nil {
		return true
	}
	e, ok := c.Entity(entity)
	if !ok {
		return true
	}
	_, ok = e.Attribute(attr)
	return !ok
}

// intersectRow reports whether rec is, or would be written as, a
// many-to-many row.
func intersectRow(rec record.Record, c *schema.Catalog) bool {
	if c != nil && c.IsIntersect(rec.Entity) {
		return true
	}
	stripped := rec.Clone()
	stripped.Remove(OwnerAttributes...)
	return isAssociation(stripped)
}

// waitingOn returns the first bare identifier attribute of rec that equals
// the ID of a different snapshot member. After splitting, only identifiers
// on intersect rows, on attributes declared as non-references, or on
// lookups whose targets exclude the matching member can still match.
func waitingOn(rec record.Record, snap *Snapshot) (string, record.Identity, bool) {
	self := rec.Identity()
	for _, name := range rec.SortedKeys() {
		v, ok := rec.Attributes[name].(record.ID)
		if !ok {
			continue
		}
		if other, ok := snap.Other(self, string(v)); ok {
			return name, other, true
		}
	}
	return "", record.Identity{}, false
}

func isOwnerAttribute(name string) bool {
	for _, o := range OwnerAttributes {
		if o == name {
			return true
		}
	}
	return false
}

// isInactive reports whether rec carries a non-zero state code.
func isInactive(rec record.Record) bool {
	switch v := rec.Attributes[StateAttribute].(type) {
	case record.OptionSet:
		return v != 0
	case record.Int:
		return v != 0
	default:
		return false
	}
}

// isAssociation reports whether rec is shaped like an intersect row:
// exactly three attributes, all bare identifiers.
func isAssociation(rec record.Record) bool {
	if len(rec.Attributes) != 3 {
		return false
	}
	for _, v := range rec.Attributes {
		if _, ok := v.(record.ID); !ok {
			return false
		}
	}
	return true
}
