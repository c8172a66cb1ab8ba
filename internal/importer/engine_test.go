package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
	"github.com/markduk/portalmover/internal/schema"
)

func newTestEngine(t *testing.T, client remote.Client, log *eventLog, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithRunIDGenerator(NewFixedGenerator(testRunID))}
	if log != nil {
		base = append(base, WithEventHandler(log.handle))
	}
	return New(client, testCatalog(t), append(base, opts...)...)
}

func callOps(calls []remote.Call) []remote.Op {
	ops := make([]remote.Op, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

func TestImport_CircularPair(t *testing.T) {
	store := remote.NewMemoryStore()
	log := &eventLog{}
	e := newTestEngine(t, store, log)

	account := rec("account", 1, map[string]record.Value{
		"name":             record.String("Contoso"),
		"primarycontactid": record.Ref{Entity: "contact", ID: guid(2)},
	})
	contact := rec("contact", 2, map[string]record.Value{
		"fullname":         record.String("Ada Lovelace"),
		"parentcustomerid": record.Ref{Entity: "account", ID: guid(1)},
	})

	res, err := e.Import(context.Background(), []record.Record{account, contact})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, testRunID, res.RunID)
	assert.Equal(t, 1, res.Sweeps)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.ReconcileFailures)
	assert.Equal(t, 2, res.Reconciled)

	// Both bases before either deferred update.
	assert.Equal(t,
		[]remote.Op{remote.OpUpsert, remote.OpUpsert, remote.OpUpdate, remote.OpUpdate},
		callOps(store.Calls()))

	createA, ok := log.first(EventCreate, ident("account", 1))
	require.True(t, ok)
	createC, ok := log.first(EventCreate, ident("contact", 2))
	require.True(t, ok)
	recA, ok := log.first(EventReconcile, ident("account", 1))
	require.True(t, ok)
	recC, ok := log.first(EventReconcile, ident("contact", 2))
	require.True(t, ok)
	assert.Less(t, createA.Seq, recC.Seq)
	assert.Less(t, createC.Seq, recA.Seq)
	assert.Less(t, createC.Seq, createA.Seq, "scan runs from the end of the batch")

	gotA, ok := store.Get(ident("account", 1))
	require.True(t, ok)
	assert.Equal(t, record.Ref{Entity: "contact", ID: guid(2)}, gotA.Attributes["primarycontactid"])
	assert.Equal(t, record.String("Contoso"), gotA.Attributes["name"])

	gotC, ok := store.Get(ident("contact", 2))
	require.True(t, ok)
	assert.Equal(t, record.Ref{Entity: "account", ID: guid(1)}, gotC.Attributes["parentcustomerid"])
}

func TestImport_DeclaredLookupBareID(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	account := rec("account", 1, map[string]record.Value{
		"primarycontactid": record.ID(guid(2)),
	})
	contact := rec("contact", 2, map[string]record.Value{
		"fullname": record.String("Grace Hopper"),
	})

	res, err := e.Import(context.Background(), []record.Record{contact, account})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 1, res.Reconciled)

	got, ok := store.Get(ident("account", 1))
	require.True(t, ok)
	assert.Equal(t, record.Ref{Entity: "contact", ID: guid(2)}, got.Attributes["primarycontactid"])
}

func TestImport_SelfReference(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	account := rec("account", 1, map[string]record.Value{
		"parentaccountid": record.Ref{Entity: "account", ID: guid(1)},
	})

	res, err := e.Import(context.Background(), []record.Record{account})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 1, res.Reconciled)
	assert.Equal(t, []remote.Op{remote.OpUpsert, remote.OpUpdate}, callOps(store.Calls()))
}

func TestImport_AssociationRecord(t *testing.T) {
	store := remote.NewMemoryStore()
	log := &eventLog{}
	e := newTestEngine(t, store, log)

	link := rec("contact_tag", 3, map[string]record.Value{
		"contact_tagid": record.ID(guid(3)),
		"contactid":     record.ID(guid(1)),
		"tagid":         record.ID(guid(2)),
	})
	records := []record.Record{
		rec("contact", 1, nil),
		rec("tag", 2, nil),
		link,
	}

	res, err := e.Import(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 2, res.Sweeps)

	for _, c := range store.Calls() {
		if c.Target.Entity == "contact_tag" {
			assert.NotEqual(t, remote.OpUpsert, c.Op, "intersect rows are never upserted")
		}
	}
	_, stored := store.Get(ident("contact_tag", 3))
	assert.False(t, stored)

	assert.True(t, store.Linked(remote.Association{
		Relationship: "contact_tag_association",
		From:         ident("contact", 1),
		To:           ident("tag", 2),
	}))
	assert.Equal(t, []EventKind{EventSkip, EventAssociate, EventTally}, log.kinds("contact_tag"))

	var label string
	for _, p := range res.Progress {
		if p.Entity == "contact_tag" {
			label = p.Label
			assert.Equal(t, 1, p.Succeeded)
		}
	}
	assert.Equal(t, "Contact / Tag", label)
}

func TestImport_DuplicateAssociationSucceeds(t *testing.T) {
	existing := remote.Association{
		Relationship: "contact_tag_association",
		From:         ident("tag", 2),
		To:           ident("contact", 1),
	}
	store := remote.NewMemoryStore(
		remote.WithPreloaded(rec("contact", 1, nil), rec("tag", 2, nil)),
		remote.WithLinks(existing),
	)
	e := newTestEngine(t, store, nil)

	link := rec("contact_tag", 3, map[string]record.Value{
		"contact_tagid": record.ID(guid(3)),
		"contactid":     record.ID(guid(1)),
		"tagid":         record.ID(guid(2)),
	})

	res, err := e.Import(context.Background(), []record.Record{link})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Progress, 1)
	assert.Equal(t, 1, res.Progress[0].Succeeded)
	assert.Equal(t, 0, res.Progress[0].Failed)

	calls := store.Calls()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].Err, "remote reported the duplicate")
}

func TestImport_UnknownRelationshipFails(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	orphan := rec("adx_link", 1, map[string]record.Value{
		"adx_linkid": record.ID(guid(1)),
		"leftid":     record.ID(guid(8)),
		"rightid":    record.ID(guid(9)),
	})

	res, err := e.Import(context.Background(), []record.Record{orphan})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.True(t, IsUnknownRelationship(res.Failures[0].Err))
	assert.Equal(t, "associate", res.Failures[0].Op)
	assert.Empty(t, store.Calls())
}

func TestImport_InvalidAssociationFails(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	bad := rec("contact_tag", 3, map[string]record.Value{
		"contact_tagid": record.ID(guid(3)),
		"contactid":     record.ID(guid(1)),
		"othertagid":    record.ID(guid(2)),
	})

	res, err := e.Import(context.Background(), []record.Record{bad})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.True(t, IsInvalidAssociation(res.Failures[0].Err))
}

func TestImport_InactiveRecordQueuedOnce(t *testing.T) {
	store := remote.NewMemoryStore()
	log := &eventLog{}
	e := newTestEngine(t, store, log)

	account := rec("account", 1, map[string]record.Value{
		"name":       record.String("Fabrikam"),
		"statecode":  record.OptionSet(1),
		"statuscode": record.OptionSet(2),
	})
	// Waits one sweep on the account before it is written.
	contact := rec("contact", 3, map[string]record.Value{
		"masterid":  record.ID(guid(1)),
		"statecode": record.Int(1),
	})

	res, err := e.Import(context.Background(), []record.Record{contact, account})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, []record.Identity{ident("account", 1), ident("contact", 3)}, res.Deactivations)

	got, ok := store.Get(ident("account", 1))
	require.True(t, ok)
	assert.NotContains(t, got.Attributes, "statecode")
	assert.NotContains(t, got.Attributes, "statuscode")
	assert.Equal(t, record.String("Fabrikam"), got.Attributes["name"])

	var queued int
	for _, ev := range log.events {
		if ev.Kind == EventQueueDeactivation {
			queued++
		}
	}
	assert.Equal(t, 2, queued)
}

func TestImport_ActiveStateIsKept(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	account := rec("account", 1, map[string]record.Value{"statecode": record.OptionSet(0)})

	res, err := e.Import(context.Background(), []record.Record{account})
	require.NoError(t, err)
	assert.Empty(t, res.Deactivations)

	got, ok := store.Get(ident("account", 1))
	require.True(t, ok)
	assert.Equal(t, record.OptionSet(0), got.Attributes["statecode"])
}

func TestImport_OwnerAttributesStripped(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	account := rec("account", 1, map[string]record.Value{
		"name":               record.String("Northwind"),
		"ownerid":            record.Ref{Entity: "systemuser", ID: guid(50)},
		"owninguser":         record.ID(guid(50)),
		"owningteam":         record.ID(guid(51)),
		"owningbusinessunit": record.ID(guid(52)),
	})

	res, err := e.Import(context.Background(), []record.Record{account})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	got, ok := store.Get(ident("account", 1))
	require.True(t, ok)
	assert.Equal(t, map[string]record.Value{"name": record.String("Northwind")}, got.Attributes)
}

func TestImport_BareIdentifierChainStopsAtBound(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	// step i points at step i+1; the last step points nowhere. nextid is
	// declared as a plain identifier, so it is never split and each step
	// waits for the next one to be written.
	var records []record.Record
	for i := 7; i >= 1; i-- {
		attrs := map[string]record.Value{}
		if i < 7 {
			attrs["nextid"] = record.ID(guid(i + 1))
		}
		records = append(records, rec("adx_step", i, attrs))
	}

	res, err := e.Import(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxSweeps, res.Sweeps)
	require.Len(t, res.Unresolved, 2)
	assert.Equal(t, guid(2), res.Unresolved[0].ID)
	assert.Equal(t, guid(1), res.Unresolved[1].ID)
	assert.Contains(t, res.Unresolved[1].Reason, "nextid still waits on adx_step("+guid(2)+")")
	assert.Contains(t, res.Unresolved[0].Reason, "not written within 5 sweeps")

	require.Len(t, res.Progress, 1)
	assert.Equal(t, "adx_step", res.Progress[0].Label)
	assert.Equal(t, 5, res.Progress[0].Succeeded)
	assert.Equal(t, 5, store.Len())

	err = res.Err()
	require.Error(t, err)
	assert.True(t, IsSweepsExhausted(err))
}

func TestImport_UndeclaredBareIDPair(t *testing.T) {
	widgets := func() []record.Record {
		return []record.Record{
			rec("widget", 1, map[string]record.Value{
				"name":      record.String("left"),
				"partnerid": record.ID(guid(2)),
			}),
			rec("widget", 2, map[string]record.Value{
				"name":      record.String("right"),
				"partnerid": record.ID(guid(1)),
			}),
		}
	}

	tests := []struct {
		name    string
		catalog func(t *testing.T) *schema.Catalog
	}{
		{"no catalog", func(*testing.T) *schema.Catalog { return nil }},
		{"entity missing from catalog", testCatalog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := remote.NewMemoryStore()
			log := &eventLog{}
			e := New(store, tt.catalog(t),
				WithRunIDGenerator(NewFixedGenerator(testRunID)),
				WithEventHandler(log.handle),
			)

			res, err := e.Import(context.Background(), widgets())
			require.NoError(t, err)
			require.NoError(t, res.Err())

			assert.Equal(t, 1, res.Sweeps)
			assert.Empty(t, res.Unresolved)
			assert.Empty(t, res.Failures)
			assert.Equal(t, 2, res.Reconciled)
			assert.Equal(t,
				[]remote.Op{remote.OpUpsert, remote.OpUpsert, remote.OpUpdate, remote.OpUpdate},
				callOps(store.Calls()))

			split, ok := log.first(EventSplit, ident("widget", 1))
			require.True(t, ok)
			assert.Equal(t, "deferred partnerid", split.Message)

			for n, partner := range map[int]int{1: 2, 2: 1} {
				got, ok := store.Get(ident("widget", n))
				require.True(t, ok)
				assert.Equal(t, record.Ref{Entity: "widget", ID: guid(partner)}, got.Attributes["partnerid"])
			}
		})
	}
}

func TestImport_UndeclaredAttributeOnKnownEntity(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	account := rec("account", 1, map[string]record.Value{
		"adx_mirrorcontactid": record.ID(guid(2)),
	})
	contact := rec("contact", 2, map[string]record.Value{
		"parentcustomerid": record.ID(guid(1)),
	})

	res, err := e.Import(context.Background(), []record.Record{account, contact})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sweeps)
	assert.Empty(t, res.Unresolved)
	assert.Equal(t, 2, res.Reconciled)

	got, ok := store.Get(ident("account", 1))
	require.True(t, ok)
	assert.Equal(t, record.Ref{Entity: "contact", ID: guid(2)}, got.Attributes["adx_mirrorcontactid"])
}

func TestImport_RawMatchIgnoresOwnID(t *testing.T) {
	store := remote.NewMemoryStore()
	log := &eventLog{}
	e := newTestEngine(t, store, log)

	widget := rec("widget", 1, map[string]record.Value{"widgetid": record.ID(guid(1))})

	res, err := e.Import(context.Background(), []record.Record{widget})
	require.NoError(t, err)
	assert.Zero(t, res.Reconciled)
	assert.Equal(t, []EventKind{EventCreate, EventTally}, log.kinds("widget"))

	got, ok := store.Get(ident("widget", 1))
	require.True(t, ok)
	assert.Equal(t, record.ID(guid(1)), got.Attributes["widgetid"])
}

func TestImport_MaxSweepsOption(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil, WithMaxSweeps(1))

	records := []record.Record{
		rec("contact", 2, map[string]record.Value{"masterid": record.ID(guid(1))}),
		rec("account", 1, nil),
	}
	res, err := e.Import(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sweeps)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "contact", res.Unresolved[0].Entity)
}

func TestImport_FailureIsNotRetried(t *testing.T) {
	store := remote.NewMemoryStore()
	boom := errors.New("boom")
	store.InjectFault(remote.OpUpsert, ident("account", 1), boom)
	e := newTestEngine(t, store, nil)

	res, err := e.Import(context.Background(), []record.Record{rec("account", 1, nil), rec("account", 2, nil)})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, ident("account", 1), f.Identity())
	assert.True(t, IsWriteFailed(f.Err))
	assert.ErrorIs(t, f.Err, boom)

	require.Len(t, res.Progress, 1)
	assert.Equal(t, 2, res.Progress[0].Processed)
	assert.Equal(t, 1, res.Progress[0].Failed)

	var attempts int
	for _, c := range store.Calls() {
		if c.Target == ident("account", 1) {
			attempts++
		}
	}
	assert.Equal(t, 1, attempts)
}

func TestImport_ReconcileFailureIsNonFatal(t *testing.T) {
	store := remote.NewMemoryStore()
	store.InjectFault(remote.OpUpdate, ident("account", 1), errors.New("locked"))
	e := newTestEngine(t, store, nil)

	account := rec("account", 1, map[string]record.Value{
		"primarycontactid": record.Ref{Entity: "contact", ID: guid(2)},
	})
	contact := rec("contact", 2, map[string]record.Value{
		"parentcustomerid": record.Ref{Entity: "account", ID: guid(1)},
	})

	res, err := e.Import(context.Background(), []record.Record{account, contact})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	require.Len(t, res.ReconcileFailures, 1)
	assert.Equal(t, ident("account", 1), res.ReconcileFailures[0].Identity())
	assert.Equal(t, 1, res.Reconciled)
}

func TestImport_ReconcileSkipsUnwrittenBase(t *testing.T) {
	store := remote.NewMemoryStore()
	store.InjectFault(remote.OpUpsert, ident("account", 1), errors.New("rejected"))
	e := newTestEngine(t, store, nil)

	account := rec("account", 1, map[string]record.Value{
		"primarycontactid": record.Ref{Entity: "contact", ID: guid(2)},
	})
	contact := rec("contact", 2, map[string]record.Value{
		"parentcustomerid": record.Ref{Entity: "account", ID: guid(1)},
	})

	res, err := e.Import(context.Background(), []record.Record{account, contact})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, []record.Identity{ident("account", 1)}, res.ReconcileSkipped)

	// The contact's deferred reference points at the missing account.
	require.Len(t, res.ReconcileFailures, 1)
	assert.Equal(t, ident("contact", 2), res.ReconcileFailures[0].Identity())
	assert.True(t, remote.IsNotFound(res.ReconcileFailures[0].Err))
	assert.Equal(t, 0, res.Reconciled)
}

func TestImport_ExemptEntitySkipsReferenceChecks(t *testing.T) {
	store := remote.NewMemoryStore()
	log := &eventLog{}
	e := newTestEngine(t, store, log)

	records := []record.Record{
		rec("account", 1, nil),
		rec("annotation", 9, map[string]record.Value{"objectid": record.ID(guid(1))}),
	}
	res, err := e.Import(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sweeps)
	assert.Equal(t, []EventKind{EventCreate, EventTally}, log.kinds("annotation"))

	// Without the exemption the note waits a sweep for its parent.
	log = &eventLog{}
	e = newTestEngine(t, remote.NewMemoryStore(), log, WithExemptEntity(""))
	res, err = e.Import(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sweeps)
	assert.Equal(t, []EventKind{EventSkip, EventCreate, EventTally}, log.kinds("annotation"))
}

func TestImport_DuplicateIdentityRejected(t *testing.T) {
	e := newTestEngine(t, remote.NewMemoryStore(), nil)

	res, err := e.Import(context.Background(), []record.Record{rec("account", 1, nil), rec("account", 1, nil)})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsDuplicateIdentity(err))
}

func TestImport_CancelledContext(t *testing.T) {
	store := remote.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Import(ctx, []record.Record{rec("account", 1, nil), rec("contact", 2, nil)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	require.Len(t, res.Unresolved, 2)
	assert.Contains(t, res.Unresolved[0].Reason, "import cancelled")
	assert.Empty(t, store.Calls())
}

func TestImport_EventsAreOrdered(t *testing.T) {
	log := &eventLog{}
	e := newTestEngine(t, remote.NewMemoryStore(), log)

	account := rec("account", 1, map[string]record.Value{
		"primarycontactid": record.Ref{Entity: "contact", ID: guid(2)},
	})
	res, err := e.Import(context.Background(), []record.Record{account, rec("contact", 2, nil)})
	require.NoError(t, err)

	require.NotEmpty(t, log.events)
	for i := 1; i < len(log.events); i++ {
		assert.Greater(t, log.events[i].Seq, log.events[i-1].Seq)
	}
	assert.Equal(t, log.events[len(log.events)-1].Seq, res.LastSeq)

	first := log.events[0]
	assert.Equal(t, EventSweep, first.Kind)
	assert.Equal(t, 1, first.Sweep)

	split, ok := log.first(EventSplit, ident("account", 1))
	require.True(t, ok)
	assert.Equal(t, "Account", split.Label)
	assert.Equal(t, "deferred primarycontactid", split.Message)

	last := log.events[len(log.events)-1]
	assert.Equal(t, EventTally, last.Kind)
	assert.Equal(t, 0, last.Sweep)
}

func TestSplit_MergesIntoExistingDeferredRecord(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore(remote.WithPreloaded(rec("contact", 2, nil), rec("account", 3, nil)))
	e := newTestEngine(t, store, nil)
	r := e.newRun()

	batch, err := NewBatch([]record.Record{rec("account", 1, nil), rec("contact", 2, nil), rec("account", 3, nil)})
	require.NoError(t, err)
	snap := batch.Snapshot()

	first := rec("account", 1, map[string]record.Value{
		"primarycontactid": record.Ref{Entity: "contact", ID: guid(2)},
		"name":             record.String("Contoso"),
	})
	assert.False(t, r.split(&first, snap))
	assert.Equal(t, map[string]record.Value{"name": record.String("Contoso")}, first.Attributes)

	second := rec("account", 1, map[string]record.Value{
		"parentaccountid": record.ID(guid(3)),
	})
	assert.True(t, r.split(&second, snap), "second split of one identity waits a sweep")
	assert.Empty(t, second.Attributes)
	assert.Equal(t, 1, r.deferred.Len())

	_, err = store.Upsert(ctx, rec("account", 1, nil))
	require.NoError(t, err)
	r.written[ident("account", 1)] = true

	require.NoError(t, r.reconcile(ctx))
	assert.Equal(t, 1, r.result.Reconciled)

	var updates []remote.Call
	for _, c := range store.Calls() {
		if c.Op == remote.OpUpdate {
			updates = append(updates, c)
		}
	}
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"parentaccountid", "primarycontactid"}, updates[0].Attrs)

	got, ok := store.Get(ident("account", 1))
	require.True(t, ok)
	assert.Equal(t, record.Ref{Entity: "contact", ID: guid(2)}, got.Attributes["primarycontactid"])
	assert.Equal(t, record.Ref{Entity: "account", ID: guid(3)}, got.Attributes["parentaccountid"])
}
