package importer

import (
	"github.com/markduk/portalmover/internal/record"
)

// deferredSet holds the deferred-reference records of a run, at most one
// per identity, in the order they were first split.
type deferredSet struct {
	order []record.Identity
	recs  map[record.Identity]*record.Record
}

func newDeferredSet() *deferredSet {
	return &deferredSet{recs: map[record.Identity]*record.Record{}}
}

// Has reports whether a deferred record exists for id.
func (d *deferredSet) Has(id record.Identity) bool {
	_, ok := d.recs[id]
	return ok
}

// Add stores a deferred record, merging its attributes into an existing
// one for the same identity.
func (d *deferredSet) Add(rec record.Record) {
	id := rec.Identity()
	if existing, ok := d.recs[id]; ok {
		for k, v := range rec.Attributes {
			existing.Set(k, v)
		}
		return
	}
	c := rec.Clone()
	d.recs[id] = &c
	d.order = append(d.order, id)
}

// Len returns the number of distinct deferred identities.
func (d *deferredSet) Len() int { return len(d.order) }

// Records returns copies of the deferred records in split order.
func (d *deferredSet) Records() []record.Record {
	out := make([]record.Record, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.recs[id].Clone())
	}
	return out
}
