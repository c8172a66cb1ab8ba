package importer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/language"

	"github.com/markduk/portalmover/internal/progress"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
	"github.com/markduk/portalmover/internal/schema"
)

const (
	// DefaultMaxSweeps bounds the sweeps of one run.
	DefaultMaxSweeps = 5

	// DefaultExemptEntity names the entity whose records skip cycle
	// detection and the bare identifier guard. Annotations reference
	// their parent through a polymorphic identifier that cannot be
	// resolved against the batch.
	DefaultExemptEntity = "annotation"
)

// Engine imports batches of records through a remote client.
// An Engine holds configuration only and may run several imports one
// after another.
type Engine struct {
	client    remote.Client
	catalog   *schema.Catalog
	maxSweeps int
	exempt    string
	lang      language.Tag
	logger    *slog.Logger
	handler   EventHandler
	runIDs    RunIDGenerator
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSweeps sets the sweep bound. Values below 1 are ignored.
func WithMaxSweeps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSweeps = n
		}
	}
}

// WithExemptEntity changes the entity exempt from reference checks.
// An empty name exempts nothing.
func WithExemptEntity(name string) Option {
	return func(e *Engine) { e.exempt = name }
}

// WithLanguage sets the language progress labels are resolved in.
func WithLanguage(tag language.Tag) Option {
	return func(e *Engine) { e.lang = tag }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEventHandler registers a handler called for every event.
func WithEventHandler(h EventHandler) Option {
	return func(e *Engine) { e.handler = h }
}

// WithRunIDGenerator replaces the UUIDv7 run ID generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// New creates an Engine writing through client. catalog may be nil, in
// which case only typed references and bare identifiers are recognised
// and association records always fail.
func New(client remote.Client, catalog *schema.Catalog, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		catalog:   catalog,
		maxSweeps: DefaultMaxSweeps,
		exempt:    DefaultExemptEntity,
		lang:      language.English,
		logger:    slog.Default(),
		runIDs:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run holds the mutable state of one Import call.
type run struct {
	e        *Engine
	id       string
	clock    *Clock
	sweep    int
	deferred *deferredSet
	queue    *DeactivationQueue
	tracker  *progress.Tracker
	written  map[record.Identity]bool
	labels   map[string]string
	result   *Result
}

func (e *Engine) newRun() *run {
	id := e.runIDs.Generate()
	return &run{
		e:        e,
		id:       id,
		clock:    NewClock(),
		deferred: newDeferredSet(),
		queue:    NewDeactivationQueue(),
		tracker:  progress.NewTracker(e.lang),
		written:  map[record.Identity]bool{},
		labels:   map[string]string{},
		result:   &Result{RunID: id},
	}
}

// Import writes records to the remote store.
//
// The returned error is non-nil only when the input is rejected (a
// duplicate identity) or ctx is cancelled. Per-record failures,
// reconciliation failures and unresolved records are reported in the
// Result; Result.Err turns unresolved records into an error.
func (e *Engine) Import(ctx context.Context, records []record.Record) (*Result, error) {
	batch, err := NewBatch(records)
	if err != nil {
		return nil, err
	}

	r := e.newRun()
	e.logger.Info("import started", "run", r.id, "records", batch.Len(), "max_sweeps", e.maxSweeps)

	limiter := newSweepLimiter(e.maxSweeps)
	var cancelled error
	for batch.Len() > 0 && limiter.Next() {
		r.sweep = limiter.Current()
		r.emit(Event{Kind: EventSweep, Message: fmt.Sprintf("%d records pending", batch.Len())})
		if err := r.runSweep(ctx, batch); err != nil {
			cancelled = err
			break
		}
		e.logger.Info("sweep finished", "run", r.id, "sweep", r.sweep, "remaining", batch.Len())
	}
	r.result.Sweeps = limiter.Current()
	r.sweep = 0

	r.reportUnresolved(batch, cancelled)
	if cancelled == nil {
		cancelled = r.reconcile(ctx)
	} else {
		r.skipReconciliation()
	}
	r.tally()

	r.result.Deactivations = r.queue.Items()
	r.result.Progress = r.tracker.Snapshot()
	r.result.LastSeq = r.clock.Current()

	totals := r.tracker.Totals()
	e.logger.Info("import finished",
		"run", r.id,
		"sweeps", r.result.Sweeps,
		"succeeded", totals.Succeeded,
		"failed", totals.Failed,
		"unresolved", len(r.result.Unresolved),
		"reconciled", r.result.Reconciled,
	)

	if cancelled != nil {
		return r.result, fmt.Errorf("import run %s: %w", r.id, cancelled)
	}
	return r.result, nil
}

// runSweep scans the batch from the end toward the start.
func (r *run) runSweep(ctx context.Context, batch *Batch) error {
	snap := batch.Snapshot()
	for i := batch.Len() - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := batch.At(i)
		if rec.Entity != r.e.exempt {
			if r.split(rec, snap) {
				continue
			}
			if attr, other, ok := waitingOn(*rec, snap); ok {
				r.emit(Event{
					Kind:    EventSkip,
					Entity:  rec.Entity,
					ID:      rec.ID,
					Message: fmt.Sprintf("%s waits on %s", attr, other),
				})
				continue
			}
		}
		r.write(ctx, rec)
		batch.Remove(i)
	}
	return nil
}

// split moves rec's in-batch references into its deferred record. When a
// deferred record already exists for the identity, the references are
// merged into it and split reports true: the record waits for the next
// sweep. Import never reaches the merge today, since the first split takes
// every in-batch reference and the batch only shrinks.
func (r *run) split(rec *record.Record, snap *Snapshot) bool {
	refs := batchRefs(*rec, r.e.catalog, snap)
	if len(refs) == 0 {
		return false
	}
	names := slices.Sorted(maps.Keys(refs))
	rec.Remove(names...)

	d := rec.Partial()
	for _, n := range names {
		d.Set(n, refs[n])
	}
	kind := EventSplit
	merged := r.deferred.Has(d.Identity())
	if merged {
		kind = EventMerge
	}
	r.deferred.Add(d)
	r.emit(Event{
		Kind:    kind,
		Entity:  rec.Entity,
		ID:      rec.ID,
		Message: "deferred " + strings.Join(names, ", "),
	})
	return merged
}

// write strips owner and state attributes and sends rec as an associate
// call or an upsert. The outcome is counted against rec's entity.
func (r *run) write(ctx context.Context, rec *record.Record) {
	id := rec.Identity()
	rec.Remove(OwnerAttributes...)
	inactive := isInactive(*rec)
	if inactive {
		rec.Remove(StateAttribute, StatusAttribute)
	}

	p := r.tracker.Track(rec.Entity, r.e.catalog)
	var (
		op   = "upsert"
		kind EventKind
		msg  string
		err  error
	)
	if isAssociation(*rec) {
		op, kind = "associate", EventAssociate
		msg, err = r.associate(ctx, *rec)
	} else {
		var created bool
		created, err = r.e.client.Upsert(ctx, *rec)
		kind = EventUpdate
		if created {
			kind = EventCreate
		}
	}

	if err != nil {
		p.Fail()
		if !IsUnknownRelationship(err) && !IsInvalidAssociation(err) {
			err = newImportError(ErrCodeWriteFailed, id, err, "%s rejected", op)
		}
		r.result.Failures = append(r.result.Failures, newFailure(id, op, err))
		r.e.logger.Warn("write failed", "run", r.id, "op", op, "entity", id.Entity, "id", id.ID, "error", err)
		r.emit(Event{Kind: EventFail, Entity: id.Entity, ID: id.ID, Message: op, Err: err.Error()})
		return
	}

	p.Succeed()
	r.written[id] = true
	r.e.logger.Debug("record written", "run", r.id, "kind", kind, "entity", id.Entity, "id", id.ID)
	r.emit(Event{Kind: kind, Entity: id.Entity, ID: id.ID, Message: msg})

	if inactive && r.queue.Enqueue(id) {
		r.emit(Event{Kind: EventQueueDeactivation, Entity: id.Entity, ID: id.ID})
	}
}

// associate links the two records named by an intersect row. A link that
// already exists counts as success.
func (r *run) associate(ctx context.Context, rec record.Record) (string, error) {
	id := rec.Identity()
	var (
		rel schema.ManyToMany
		ok  bool
	)
	if r.e.catalog != nil {
		rel, ok = r.e.catalog.Relationship(rec.Entity)
	}
	if !ok {
		return "", newImportError(ErrCodeUnknownRelationship, id, nil,
			"no many-to-many relationship has intersect entity %q", rec.Entity)
	}

	from, ok1 := rec.Attributes[rel.Entity1Attribute].(record.ID)
	to, ok2 := rec.Attributes[rel.Entity2Attribute].(record.ID)
	if !ok1 || !ok2 {
		return "", newImportError(ErrCodeInvalidAssociation, id, nil,
			"relationship %s needs identifiers in %s and %s", rel.SchemaName, rel.Entity1Attribute, rel.Entity2Attribute)
	}

	a := remote.Association{
		Relationship: rel.SchemaName,
		From:         record.Identity{Entity: rel.Entity1, ID: string(from)},
		To:           record.Identity{Entity: rel.Entity2, ID: string(to)},
	}
	err := r.e.client.Associate(ctx, a)
	switch {
	case err == nil:
		return a.String(), nil
	case remote.IsDuplicateAssociation(err):
		return a.String() + " (already linked)", nil
	default:
		return "", err
	}
}

// reconcile applies every deferred record with one update. Failures are
// recorded and the pass continues. Only cancellation stops it.
func (r *run) reconcile(ctx context.Context) error {
	for _, d := range r.deferred.Records() {
		id := d.Identity()
		if !r.written[id] {
			r.result.ReconcileSkipped = append(r.result.ReconcileSkipped, id)
			r.emit(Event{Kind: EventReconcileSkip, Entity: id.Entity, ID: id.ID, Message: "base record was not written"})
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.Remove(OwnerAttributes...)
		names := d.SortedKeys()
		if err := r.e.client.Update(ctx, d); err != nil {
			r.result.ReconcileFailures = append(r.result.ReconcileFailures, newFailure(id, "update", err))
			r.e.logger.Warn("reconciliation failed", "run", r.id, "entity", id.Entity, "id", id.ID, "error", err)
			r.emit(Event{Kind: EventReconcileFail, Entity: id.Entity, ID: id.ID, Err: err.Error()})
			continue
		}
		r.result.Reconciled++
		r.emit(Event{Kind: EventReconcile, Entity: id.Entity, ID: id.ID, Message: strings.Join(names, ", ")})
	}
	return nil
}

func (r *run) skipReconciliation() {
	for _, d := range r.deferred.Records() {
		id := d.Identity()
		r.result.ReconcileSkipped = append(r.result.ReconcileSkipped, id)
		r.emit(Event{Kind: EventReconcileSkip, Entity: id.Entity, ID: id.ID, Message: "import cancelled"})
	}
}

// reportUnresolved records every record left in the batch with the reason
// it was not written.
func (r *run) reportUnresolved(batch *Batch, cancelled error) {
	snap := batch.Snapshot()
	for _, rec := range batch.Records() {
		var reason string
		switch {
		case cancelled != nil:
			reason = "import cancelled: " + cancelled.Error()
		default:
			if attr, other, ok := waitingOn(rec, snap); ok {
				reason = fmt.Sprintf("%s still waits on %s after %d sweeps", attr, other, r.result.Sweeps)
			} else {
				reason = fmt.Sprintf("not written within %d sweeps", r.result.Sweeps)
			}
		}
		r.result.Unresolved = append(r.result.Unresolved, Unresolved{Entity: rec.Entity, ID: rec.ID, Reason: reason})
		r.emit(Event{Kind: EventUnresolved, Entity: rec.Entity, ID: rec.ID, Message: reason})
	}
}

func (r *run) tally() {
	for _, p := range r.tracker.Snapshot() {
		r.emit(Event{
			Kind:    EventTally,
			Entity:  p.Entity,
			Message: fmt.Sprintf("%d succeeded, %d failed (%d processed)", p.Succeeded, p.Failed, p.Processed),
		})
	}
}

func (r *run) label(entity string) string {
	if l, ok := r.labels[entity]; ok {
		return l
	}
	l := progress.ResolveLabel(entity, r.e.catalog, r.e.lang)
	r.labels[entity] = l
	return l
}

func (r *run) emit(ev Event) {
	ev.Seq = r.clock.Next()
	if ev.Sweep == 0 {
		ev.Sweep = r.sweep
	}
	if ev.Entity != "" {
		ev.Label = r.label(ev.Entity)
	}
	if r.e.handler != nil {
		r.e.handler(ev)
	}
}
