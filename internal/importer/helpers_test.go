package importer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/schema"
)

const testRunID = "run-0001"

func guid(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}

func rec(entity string, n int, attrs map[string]record.Value) record.Record {
	if attrs == nil {
		attrs = map[string]record.Value{}
	}
	return record.Record{Entity: entity, ID: guid(n), Attributes: attrs}
}

func ident(entity string, n int) record.Identity {
	return record.Identity{Entity: entity, ID: guid(n)}
}

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c, err := schema.NewCatalog([]schema.Entity{
		{
			LogicalName: "account",
			Labels:      map[string]string{"en-US": "Account"},
			Attributes: []schema.Attribute{
				{Name: "name", Type: schema.TypeString},
				{Name: "primarycontactid", Type: schema.TypeLookup, Targets: []string{"contact"}},
				{Name: "parentaccountid", Type: schema.TypeLookup, Targets: []string{"account"}},
				{Name: "ownerid", Type: schema.TypeOwner, Targets: []string{"systemuser"}},
				{Name: "statecode", Type: schema.TypeState},
				{Name: "statuscode", Type: schema.TypeStatus},
			},
		},
		{
			LogicalName: "contact",
			Labels:      map[string]string{"en-US": "Contact"},
			Attributes: []schema.Attribute{
				{Name: "fullname", Type: schema.TypeString},
				{Name: "parentcustomerid", Type: schema.TypeCustomer, Targets: []string{"account", "contact"}},
				{Name: "masterid", Type: schema.TypeUniqueIdentifier},
			},
		},
		{LogicalName: "tag", Labels: map[string]string{"en-US": "Tag"}},
		{
			LogicalName: "contact_tag",
			Attributes: []schema.Attribute{
				{Name: "contact_tagid", Type: schema.TypeUniqueIdentifier},
				{Name: "contactid", Type: schema.TypeUniqueIdentifier},
				{Name: "tagid", Type: schema.TypeUniqueIdentifier},
			},
		},
		{
			LogicalName: "annotation",
			Attributes: []schema.Attribute{
				{Name: "objectid", Type: schema.TypeUniqueIdentifier},
			},
		},
		{LogicalName: "systemuser"},
		{
			LogicalName: "adx_step",
			Attributes: []schema.Attribute{
				{Name: "nextid", Type: schema.TypeUniqueIdentifier},
			},
		},
	}, []schema.ManyToMany{{
		SchemaName:       "contact_tag_association",
		IntersectEntity:  "contact_tag",
		Entity1:          "contact",
		Entity1Attribute: "contactid",
		Entity2:          "tag",
		Entity2Attribute: "tagid",
	}})
	require.NoError(t, err)
	return c
}

// eventLog collects events for assertions.
type eventLog struct {
	events []Event
}

func (l *eventLog) handle(ev Event) { l.events = append(l.events, ev) }

func (l *eventLog) kinds(entity string) []EventKind {
	var out []EventKind
	for _, ev := range l.events {
		if ev.Entity == entity {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func (l *eventLog) first(kind EventKind, id record.Identity) (Event, bool) {
	for _, ev := range l.events {
		if ev.Kind == kind && ev.Entity == id.Entity && ev.ID == id.ID {
			return ev, true
		}
	}
	return Event{}, false
}
