package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/markduk/portalmover/internal/query"
	"github.com/markduk/portalmover/internal/record"
)

// Op names a Client call in the memory store's call log.
type Op string

const (
	OpUpsert    Op = "upsert"
	OpAssociate Op = "associate"
	OpUpdate    Op = "update"
	OpQuery     Op = "query"
)

// Call is one entry of the memory store's call log.
type Call struct {
	Op       Op
	Target   record.Identity
	Attrs    []string
	Related  *record.Identity
	Relation string
	Err      string
}

// MemoryStore is an in-process Client.
//
// It enforces reference integrity the way the real store does: a typed
// reference to a record that does not exist fails with a not-found fault,
// and associating an existing link fails with the duplicate fault. Dry runs
// and write-order tests rely on that.
type MemoryStore struct {
	mu      sync.Mutex
	records map[record.Identity]record.Record
	links   map[linkKey]bool
	calls   []Call
	faults  map[faultKey]error
}

type linkKey struct {
	relationship string
	from, to     record.Identity
}

type faultKey struct {
	op Op
	id record.Identity
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithPreloaded seeds records that already exist remotely.
func WithPreloaded(recs ...record.Record) MemoryOption {
	return func(m *MemoryStore) {
		for _, r := range recs {
			m.records[r.Identity()] = r.Clone()
		}
	}
}

// WithLinks seeds associations that already exist remotely.
func WithLinks(links ...Association) MemoryOption {
	return func(m *MemoryStore) {
		for _, a := range links {
			m.links[linkKey{a.Relationship, a.From, a.To}] = true
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		records: map[record.Identity]record.Record{},
		links:   map[linkKey]bool{},
		faults:  map[faultKey]error{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InjectFault makes every op call on id fail with err.
func (m *MemoryStore) InjectFault(op Op, id record.Identity, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[faultKey{op, id}] = err
}

// Upsert implements Client.
func (m *MemoryStore) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := Call{Op: OpUpsert, Target: rec.Identity(), Attrs: rec.SortedKeys()}
	err := m.check(ctx, OpUpsert, rec)
	if err != nil {
		call.Err = err.Error()
		m.calls = append(m.calls, call)
		return false, err
	}

	existing, ok := m.records[rec.Identity()]
	if !ok {
		existing = rec.Partial()
	}
	merge(&existing, rec)
	m.records[rec.Identity()] = existing
	m.calls = append(m.calls, call)
	return !ok, nil
}

// Update implements Client.
func (m *MemoryStore) Update(ctx context.Context, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := Call{Op: OpUpdate, Target: rec.Identity(), Attrs: rec.SortedKeys()}
	err := m.check(ctx, OpUpdate, rec)
	if err == nil {
		if _, ok := m.records[rec.Identity()]; !ok {
			err = notFound("update", rec.Identity())
		}
	}
	if err != nil {
		call.Err = err.Error()
		m.calls = append(m.calls, call)
		return err
	}

	existing := m.records[rec.Identity()]
	merge(&existing, rec)
	m.records[rec.Identity()] = existing
	m.calls = append(m.calls, call)
	return nil
}

// Associate implements Client.
func (m *MemoryStore) Associate(ctx context.Context, a Association) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	to := a.To
	call := Call{Op: OpAssociate, Target: a.From, Related: &to, Relation: a.Relationship}
	err := m.checkAssociate(ctx, a)
	if err != nil {
		call.Err = err.Error()
		m.calls = append(m.calls, call)
		return err
	}
	m.links[linkKey{a.Relationship, a.From, a.To}] = true
	m.calls = append(m.calls, call)
	return nil
}

func (m *MemoryStore) checkAssociate(ctx context.Context, a Association) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.faults[faultKey{OpAssociate, a.From}]; err != nil {
		return err
	}
	for _, id := range []record.Identity{a.From, a.To} {
		if _, ok := m.records[id]; !ok {
			return notFound("associate", id)
		}
	}
	if m.links[linkKey{a.Relationship, a.From, a.To}] || m.links[linkKey{a.Relationship, a.To, a.From}] {
		return &FaultError{
			Op:      "associate",
			Code:    FaultDuplicateAssociation,
			Status:  http.StatusPreconditionFailed,
			Message: fmt.Sprintf("cannot insert duplicate key for %s", a),
		}
	}
	return nil
}

// Query implements Client. Records are returned in identity order.
func (m *MemoryStore) Query(ctx context.Context, q query.Query) ([]record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpQuery, Target: record.Identity{Entity: q.Entity}})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := query.Validate(q); err != nil {
		return nil, err
	}

	var ids []record.Identity
	for id, r := range m.records {
		if id.Entity == q.Entity && matches(q.Filter, r) {
			ids = append(ids, id)
		}
	}
	record.SortIdentities(ids)

	out := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, project(m.records[id], q.Select))
	}
	return out, nil
}

// Get returns a copy of a stored record.
func (m *MemoryStore) Get(id record.Identity) (record.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return record.Record{}, false
	}
	return r.Clone(), true
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Linked reports whether the association exists in either direction.
func (m *MemoryStore) Linked(a Association) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[linkKey{a.Relationship, a.From, a.To}] || m.links[linkKey{a.Relationship, a.To, a.From}]
}

// Calls returns a copy of the call log.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *MemoryStore) check(ctx context.Context, op Op, rec record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.faults[faultKey{op, rec.Identity()}]; err != nil {
		return err
	}
	for _, name := range rec.SortedKeys() {
		ref, ok := rec.Attributes[name].(record.Ref)
		if !ok {
			continue
		}
		if _, exists := m.records[ref.Identity()]; !exists {
			return &FaultError{
				Op:      string(op),
				Code:    FaultObjectNotFound,
				Status:  http.StatusBadRequest,
				Message: fmt.Sprintf("%s.%s references %s which does not exist", rec.Entity, name, ref.Identity()),
			}
		}
	}
	return nil
}

func notFound(op string, id record.Identity) error {
	return &FaultError{
		Op:      op,
		Code:    FaultObjectNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s does not exist", id),
	}
}

// merge applies src's attributes onto dst. Null removes the attribute.
func merge(dst *record.Record, src record.Record) {
	for k, v := range src.Attributes {
		if _, isNull := v.(record.Null); isNull {
			delete(dst.Attributes, k)
			continue
		}
		dst.Set(k, v)
	}
}

func project(r record.Record, fields []string) record.Record {
	if len(fields) == 0 {
		return r.Clone()
	}
	out := r.Partial()
	for _, f := range fields {
		if v, ok := r.Attributes[f]; ok {
			out.Attributes[f] = v
		}
	}
	return out
}

func matches(p query.Predicate, r record.Record) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case query.Equals:
		v, ok := r.Attributes[pred.Field]
		if !ok {
			_, isNull := pred.Value.(record.Null)
			return isNull
		}
		if want, ok := record.IdentifierOf(pred.Value); ok {
			got, ok := record.IdentifierOf(v)
			return ok && got == want
		}
		return record.Equal(v, pred.Value)
	case query.OnOrAfter:
		s, ok := r.Attributes[pred.Field].(record.String)
		if !ok {
			return false
		}
		t, err := time.Parse(time.RFC3339, string(s))
		return err == nil && !t.Before(pred.Time)
	case query.And:
		for _, sub := range pred.Predicates {
			if !matches(sub, r) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
