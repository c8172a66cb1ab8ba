package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/progress"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
	"github.com/markduk/portalmover/internal/schema"
	"github.com/markduk/portalmover/internal/store"
	"github.com/markduk/portalmover/internal/testutil"
)

// DefaultRunID is used when a scenario does not fix one.
const DefaultRunID = "01900000-0000-7000-8000-000000000000"

// Epoch is the wall-clock start of every scenario run.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the test execution engine.
// It runs scenarios against an in-memory target and journal.
type Harness struct {
	store    *store.Store
	remote   *remote.MemoryStore
	catalog  *schema.Catalog
	recorder *testutil.EventRecorder
	clock    *testutil.StepClock
	logger   *slog.Logger
	lang     language.Tag
	runID    string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with a
// fixed run ID and wall clock.
//
// Execution flow:
// 1. Load and validate the schema
// 2. Seed the in-memory target
// 3. Journal and run the import
// 4. Drain deactivations if the scenario asks for it
// 5. Evaluate assertions and return the result
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	loaded, err := schema.LoadDir(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	if errs := schema.Validate(loaded.Catalog); len(errs) > 0 {
		return nil, fmt.Errorf("invalid schema: %s", errs[0].Message)
	}

	records, err := decodeRecords(scenario.Records)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	mem, err := buildRemote(scenario.Remote)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}

	lang := language.English
	if scenario.Language != "" {
		if lang, err = language.Parse(scenario.Language); err != nil {
			return nil, fmt.Errorf("language: %w", err)
		}
	}

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}
	h := &Harness{
		store:    st,
		remote:   mem,
		catalog:  loaded.Catalog,
		recorder: testutil.NewEventRecorder(),
		clock:    testutil.NewStepClock(Epoch, time.Second),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		lang:     lang,
		runID:    runID,
	}

	result := NewResult()
	if err := h.executeImport(ctx, scenario, records, result); err != nil {
		return nil, err
	}
	if scenario.Deactivate {
		if err := h.executeDrain(ctx, result); err != nil {
			return nil, err
		}
	}

	result.Events = h.recorder.Events()
	result.Calls = mem.Calls()
	if result.Report, err = st.ReadReport(ctx, runID); err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	actx := &AssertionContext{Remote: mem}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeImport journals the run and imports the batch. Every event is
// both recorded and appended to the journal.
func (h *Harness) executeImport(ctx context.Context, scenario *Scenario, records []record.Record, result *Result) error {
	if err := h.store.BeginRun(ctx, store.Run{ID: h.runID, Target: "memory", DryRun: true, StartedAt: h.clock.Now()}); err != nil {
		return err
	}

	var journalErr error
	handler := func(ev importer.Event) {
		h.recorder.Record(ev)
		if err := h.store.AppendEvent(ctx, h.runID, ev); err != nil && journalErr == nil {
			journalErr = err
		}
	}

	eng := importer.New(h.remote, h.catalog,
		importer.WithMaxSweeps(scenario.MaxSweeps),
		importer.WithLanguage(h.lang),
		importer.WithLogger(h.logger),
		importer.WithEventHandler(handler),
		importer.WithRunIDGenerator(importer.NewFixedGenerator(h.runID)),
	)
	res, err := eng.Import(ctx, records)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	if journalErr != nil {
		return fmt.Errorf("journal: %w", journalErr)
	}
	result.Import = res

	if err := h.store.FinishRun(ctx, res, false, h.clock.Now()); err != nil {
		return err
	}
	return nil
}

// executeDrain deactivates the queued identities and journals the outcome
// after the import's events.
func (h *Harness) executeDrain(ctx context.Context, result *Result) error {
	ids, err := h.store.PendingDeactivations(ctx, h.runID)
	if err != nil {
		return err
	}
	res, err := importer.Drain(ctx, h.remote, ids, h.logger)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	result.Drain = res

	label := func(entity string) string { return progress.ResolveLabel(entity, h.catalog, h.lang) }
	events, err := h.store.RecordDrain(ctx, h.runID, ids, res, label, h.clock.Now())
	if err != nil {
		return err
	}
	for _, ev := range events {
		h.recorder.Record(ev)
	}
	return nil
}

func decodeRecords(raw []map[string]any) ([]record.Record, error) {
	out := make([]record.Record, 0, len(raw))
	for i, m := range raw {
		rec, err := record.DecodeRecord(m)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// buildRemote creates the in-memory target with the scenario's preloaded
// records, links and faults.
func buildRemote(setup RemoteSetup) (*remote.MemoryStore, error) {
	preload, err := decodeRecords(setup.Preload)
	if err != nil {
		return nil, fmt.Errorf("preload%w", err)
	}

	links := make([]remote.Association, 0, len(setup.Links))
	for _, l := range setup.Links {
		links = append(links, remote.Association{
			Relationship: l.Relationship,
			From:         normalizeIdentity(l.From),
			To:           normalizeIdentity(l.To),
		})
	}

	mem := remote.NewMemoryStore(remote.WithPreloaded(preload...), remote.WithLinks(links...))
	for _, f := range setup.Faults {
		code, _ := remote.ParseFaultCode(f.Code)
		mem.InjectFault(remote.Op(f.Op), normalizeIdentity(record.Identity{Entity: f.Entity, ID: f.ID}), &remote.FaultError{
			Op:      f.Op,
			Code:    code,
			Status:  f.Status,
			Message: f.Message,
		})
	}
	return mem, nil
}

// normalizeIdentity applies the identifier normalisation records get, so
// scenario files may spell IDs in any case.
func normalizeIdentity(id record.Identity) record.Identity {
	if n, err := record.NormalizeID(id.ID); err == nil {
		id.ID = n
	}
	return id
}
