package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markduk/portalmover/internal/record"
)

func TestBatch_RemoveDuringBackwardScan(t *testing.T) {
	b, err := NewBatch([]record.Record{rec("account", 1, nil), rec("account", 2, nil), rec("account", 3, nil)})
	require.NoError(t, err)

	var visited []string
	for i := b.Len() - 1; i >= 0; i-- {
		visited = append(visited, b.At(i).ID)
		if i != 1 {
			b.Remove(i)
		}
	}
	assert.Equal(t, []string{guid(3), guid(2), guid(1)}, visited)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, guid(2), b.Records()[0].ID)
}

func TestBatch_CopiesInput(t *testing.T) {
	in := []record.Record{rec("account", 1, map[string]record.Value{"name": record.String("a")})}
	b, err := NewBatch(in)
	require.NoError(t, err)

	b.At(0).Remove("name")
	assert.Contains(t, in[0].Attributes, "name")
}

func TestSnapshot(t *testing.T) {
	b, err := NewBatch([]record.Record{rec("account", 1, nil), rec("contact", 1, nil), rec("tag", 2, nil)})
	require.NoError(t, err)
	snap := b.Snapshot()

	assert.True(t, snap.Contains(ident("tag", 2)))
	assert.False(t, snap.Contains(ident("tag", 1)))

	other, ok := snap.Other(ident("account", 1), guid(1))
	require.True(t, ok)
	assert.Equal(t, ident("contact", 1), other)

	_, ok = snap.Other(ident("tag", 2), guid(2))
	assert.False(t, ok, "a record never waits on itself")

	b.Remove(2)
	assert.True(t, snap.Contains(ident("tag", 2)), "snapshot is fixed for the sweep")
}

func TestDeferredSet_MergesByIdentity(t *testing.T) {
	d := newDeferredSet()
	assert.False(t, d.Has(ident("account", 1)))
	d.Add(rec("account", 1, map[string]record.Value{"a": record.ID(guid(5))}))
	d.Add(rec("contact", 2, map[string]record.Value{"c": record.ID(guid(6))}))
	assert.True(t, d.Has(ident("account", 1)))
	d.Add(rec("account", 1, map[string]record.Value{"b": record.ID(guid(7))}))

	assert.Equal(t, 2, d.Len())

	recs := d.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, ident("account", 1), recs[0].Identity())
	assert.Equal(t, []string{"a", "b"}, recs[0].SortedKeys())
	assert.Equal(t, ident("contact", 2), recs[1].Identity())
}

func TestIsAssociation(t *testing.T) {
	three := rec("contact_tag", 1, map[string]record.Value{
		"a": record.ID(guid(1)), "b": record.ID(guid(2)), "c": record.ID(guid(3)),
	})
	assert.True(t, isAssociation(three))

	mixed := three.Clone()
	mixed.Set("c", record.String("x"))
	assert.False(t, isAssociation(mixed))

	four := three.Clone()
	four.Set("d", record.ID(guid(4)))
	assert.False(t, isAssociation(four))

	ref := three.Clone()
	ref.Set("c", record.Ref{Entity: "tag", ID: guid(3)})
	assert.False(t, isAssociation(ref))
}

func TestIsInactive(t *testing.T) {
	assert.False(t, isInactive(rec("account", 1, nil)))
	assert.False(t, isInactive(rec("account", 1, map[string]record.Value{"statecode": record.OptionSet(0)})))
	assert.True(t, isInactive(rec("account", 1, map[string]record.Value{"statecode": record.OptionSet(1)})))
	assert.True(t, isInactive(rec("account", 1, map[string]record.Value{"statecode": record.Int(2)})))
	assert.False(t, isInactive(rec("account", 1, map[string]record.Value{"statecode": record.Null{}})))
}

func TestSweepLimiter(t *testing.T) {
	l := newSweepLimiter(2)
	assert.True(t, l.Next())
	assert.True(t, l.Next())
	assert.False(t, l.Next())
	assert.Equal(t, 2, l.Current())
}
