package schema

import (
	"fmt"
	"slices"
	"strings"
)

// AttributeType is the metadata type of an attribute.
type AttributeType string

const (
	TypeString           AttributeType = "string"
	TypeMemo             AttributeType = "memo"
	TypeInt              AttributeType = "int"
	TypeBool             AttributeType = "bool"
	TypeDateTime         AttributeType = "datetime"
	TypePicklist         AttributeType = "picklist"
	TypeUniqueIdentifier AttributeType = "uniqueidentifier"
	TypeLookup           AttributeType = "lookup"
	TypeCustomer         AttributeType = "customer"
	TypeOwner            AttributeType = "owner"
	TypeState            AttributeType = "state"
	TypeStatus           AttributeType = "status"
)

var validTypes = map[AttributeType]bool{
	TypeString: true, TypeMemo: true, TypeInt: true, TypeBool: true,
	TypeDateTime: true, TypePicklist: true, TypeUniqueIdentifier: true,
	TypeLookup: true, TypeCustomer: true, TypeOwner: true,
	TypeState: true, TypeStatus: true,
}

// IsReference reports whether values of this type point at another record.
func (t AttributeType) IsReference() bool {
	return t == TypeLookup || t == TypeCustomer || t == TypeOwner
}

// Attribute describes one column of an entity.
type Attribute struct {
	Name    string        `json:"name"`
	Type    AttributeType `json:"type"`
	Targets []string      `json:"targets,omitempty"`
}

// Entity describes one record type.
type Entity struct {
	LogicalName string            `json:"logical_name"`
	EntitySet   string            `json:"entity_set"`
	PrimaryID   string            `json:"primary_id"`
	Labels      map[string]string `json:"labels,omitempty"`
	Attributes  []Attribute       `json:"attributes"`
}

// Attribute returns the named attribute definition.
func (e *Entity) Attribute(name string) (Attribute, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// ManyToMany describes an N:N relationship backed by an intersect entity.
// Entity1Attribute and Entity2Attribute are the intersect entity's columns
// holding the identifiers of the two related records.
type ManyToMany struct {
	SchemaName       string `json:"schema_name"`
	IntersectEntity  string `json:"intersect_entity"`
	Entity1          string `json:"entity1"`
	Entity1Attribute string `json:"entity1_attribute"`
	Entity2          string `json:"entity2"`
	Entity2Attribute string `json:"entity2_attribute"`
}

// Catalog is the compiled metadata for every entity taking part in an
// import. It is immutable after NewCatalog returns.
type Catalog struct {
	entities      map[string]*Entity
	relationships map[string]ManyToMany // keyed by intersect entity
	bySchemaName  map[string]ManyToMany
}

// NewCatalog indexes entities and relationships. Entity defaults are filled
// in: PrimaryID becomes <name>id and EntitySet becomes <name>s when unset.
func NewCatalog(entities []Entity, relationships []ManyToMany) (*Catalog, error) {
	c := &Catalog{
		entities:      make(map[string]*Entity, len(entities)),
		relationships: make(map[string]ManyToMany, len(relationships)),
		bySchemaName:  make(map[string]ManyToMany, len(relationships)),
	}
	for i := range entities {
		e := entities[i]
		if e.LogicalName == "" {
			return nil, fmt.Errorf("entity %d has no logical name", i)
		}
		if _, dup := c.entities[e.LogicalName]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.LogicalName)
		}
		if e.PrimaryID == "" {
			e.PrimaryID = e.LogicalName + "id"
		}
		if e.EntitySet == "" {
			e.EntitySet = e.LogicalName + "s"
		}
		c.entities[e.LogicalName] = &e
	}
	for _, r := range relationships {
		if r.SchemaName == "" {
			return nil, fmt.Errorf("relationship for intersect %q has no schema name", r.IntersectEntity)
		}
		if _, dup := c.bySchemaName[r.SchemaName]; dup {
			return nil, fmt.Errorf("duplicate relationship %q", r.SchemaName)
		}
		c.bySchemaName[r.SchemaName] = r
		if _, dup := c.relationships[r.IntersectEntity]; !dup {
			c.relationships[r.IntersectEntity] = r
		}
	}
	return c, nil
}

// Entity returns the metadata for an entity.
func (c *Catalog) Entity(name string) (*Entity, bool) {
	e, ok := c.entities[name]
	return e, ok
}

// Entities returns all entities sorted by logical name.
func (c *Catalog) Entities() []*Entity {
	out := make([]*Entity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entity) int { return strings.Compare(a.LogicalName, b.LogicalName) })
	return out
}

// Relationships returns all many-to-many relationships sorted by schema name.
func (c *Catalog) Relationships() []ManyToMany {
	out := make([]ManyToMany, 0, len(c.bySchemaName))
	for _, r := range c.bySchemaName {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b ManyToMany) int { return strings.Compare(a.SchemaName, b.SchemaName) })
	return out
}

// Relationship returns the many-to-many relationship whose intersect entity
// is the given entity.
func (c *Catalog) Relationship(intersect string) (ManyToMany, bool) {
	r, ok := c.relationships[intersect]
	return r, ok
}

// IsIntersect reports whether the entity backs a many-to-many relationship.
func (c *Catalog) IsIntersect(name string) bool {
	_, ok := c.relationships[name]
	return ok
}

// LookupTargets returns the entities a reference attribute may point at.
// The second result is false when the attribute is unknown or not a
// reference.
func (c *Catalog) LookupTargets(entity, attr string) ([]string, bool) {
	e, ok := c.entities[entity]
	if !ok {
		return nil, false
	}
	a, ok := e.Attribute(attr)
	if !ok || !a.Type.IsReference() {
		return nil, false
	}
	return a.Targets, true
}

// EntitySet returns the collection name used in Web API URLs.
func (c *Catalog) EntitySet(entity string) string {
	if e, ok := c.entities[entity]; ok {
		return e.EntitySet
	}
	return entity + "s"
}

// PrimaryID returns the primary key attribute name.
func (c *Catalog) PrimaryID(entity string) string {
	if e, ok := c.entities[entity]; ok {
		return e.PrimaryID
	}
	return entity + "id"
}
