package importer

import (
	"github.com/markduk/portalmover/internal/record"
)

// Batch is the ordered working set of records still to be written.
// A record appears at most once and is removed as soon as it is written
// or fails.
type Batch struct {
	records []record.Record
}

// NewBatch copies records into a batch. Two records with the same identity
// are rejected.
func NewBatch(records []record.Record) (*Batch, error) {
	seen := make(map[record.Identity]bool, len(records))
	b := &Batch{records: make([]record.Record, 0, len(records))}
	for _, r := range records {
		id := r.Identity()
		if seen[id] {
			return nil, newImportError(ErrCodeDuplicateIdentity, id, nil, "record appears more than once in the batch")
		}
		seen[id] = true
		b.records = append(b.records, r.Clone())
	}
	return b, nil
}

// Len returns the number of records left.
func (b *Batch) Len() int { return len(b.records) }

// At returns a pointer to the i-th record. The pointer is valid until the
// next Remove.
func (b *Batch) At(i int) *record.Record { return &b.records[i] }

// Remove drops the i-th record. Indices below i are unaffected, so a
// backward scan can remove as it goes.
func (b *Batch) Remove(i int) {
	b.records = append(b.records[:i], b.records[i+1:]...)
}

// Records returns a copy of the remaining records in batch order.
func (b *Batch) Records() []record.Record {
	out := make([]record.Record, len(b.records))
	for i, r := range b.records {
		out[i] = r.Clone()
	}
	return out
}

// Snapshot captures batch membership for one sweep.
func (b *Batch) Snapshot() *Snapshot {
	s := &Snapshot{
		members: make(map[record.Identity]bool, len(b.records)),
		byID:    make(map[string][]record.Identity, len(b.records)),
	}
	for _, r := range b.records {
		id := r.Identity()
		s.members[id] = true
		s.byID[id.ID] = append(s.byID[id.ID], id)
	}
	return s
}

// Snapshot is the batch membership seen by every record of one sweep.
// Records written earlier in the same sweep still count as members.
type Snapshot struct {
	members map[record.Identity]bool
	byID    map[string][]record.Identity
}

// Contains reports whether the identity was in the batch.
func (s *Snapshot) Contains(id record.Identity) bool {
	return s.members[id]
}

// Other returns a member other than self whose ID equals id.
func (s *Snapshot) Other(self record.Identity, id string) (record.Identity, bool) {
	for _, m := range s.byID[id] {
		if m != self {
			return m, true
		}
	}
	return record.Identity{}, false
}
