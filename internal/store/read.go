package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/progress"
	"github.com/markduk/portalmover/internal/query"
	"github.com/markduk/portalmover/internal/record"
)

// ErrRunNotFound is returned when a run ID is not in the journal.
var ErrRunNotFound = errors.New("run not found")

// LoadStaged returns the staged records matching q, in staging order.
// q.Select is applied after decoding.
func (s *Store) LoadStaged(ctx context.Context, q query.Query) ([]record.Record, error) {
	stmt, params, err := query.NewSQLCompiler().Compile(q)
	if err != nil {
		return nil, fmt.Errorf("load staged %s: %w", q.Entity, err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("load staged %s: %w", q.Entity, err)
	}
	defer rows.Close()

	recs := []record.Record{}
	for rows.Next() {
		var entity, id, attrs string
		if err := rows.Scan(&entity, &id, &attrs); err != nil {
			return nil, fmt.Errorf("scan staged record: %w", err)
		}
		rec, err := unmarshalRecord(entity, id, attrs)
		if err != nil {
			return nil, err
		}
		recs = append(recs, project(rec, q.Select))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged records: %w", err)
	}
	return recs, nil
}

func project(r record.Record, fields []string) record.Record {
	if len(fields) == 0 {
		return r
	}
	out := r.Partial()
	for _, f := range fields {
		if v, ok := r.Attributes[f]; ok {
			out.Attributes[f] = v
		}
	}
	return out
}

// StagedEntity is a per-entity count of staged records.
type StagedEntity struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

// StagedEntities lists the staged entities with their record counts,
// ordered by the position of each entity's first staged record.
func (s *Store) StagedEntities(ctx context.Context) ([]StagedEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity, COUNT(*), MIN(seq) AS first_seq
		FROM staged_records
		GROUP BY entity
		ORDER BY first_seq ASC, entity COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list staged entities: %w", err)
	}
	defer rows.Close()

	out := []StagedEntity{}
	for rows.Next() {
		var e StagedEntity
		var first int64
		if err := rows.Scan(&e.Entity, &e.Count, &first); err != nil {
			return nil, fmt.Errorf("scan staged entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged entities: %w", err)
	}
	return out, nil
}

// ReadRun returns one run's header.
// Returns ErrRunNotFound if the run does not exist.
func (s *Store) ReadRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target, dry_run, status, sweeps, reconciled, started_at, finished_at
		FROM runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", runID, ErrRunNotFound)
	}
	return run, err
}

// ListRuns returns every run ordered by ID. Run IDs are UUIDv7, so this is
// creation order.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target, dry_run, status, sweeps, reconciled, started_at, finished_at
		FROM runs ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run               Run
		started, finished string
	)
	if err := sc.Scan(&run.ID, &run.Target, &run.DryRun, &run.Status, &run.Sweeps, &run.Reconciled, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("run %s started_at: %w", run.ID, err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, fmt.Errorf("run %s finished_at: %w", run.ID, err)
	}
	return run, nil
}

// ReadEvents returns a run's events ordered by seq.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]importer.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, sweep, kind, entity, record_id, label, message, error
		FROM run_events WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	events := []importer.Event{}
	for rows.Next() {
		var ev importer.Event
		var kind string
		if err := rows.Scan(&ev.Seq, &ev.Sweep, &kind, &ev.Entity, &ev.ID, &ev.Label, &ev.Message, &ev.Err); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = importer.EventKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest event seq of a run, 0 if it has none.
func (s *Store) LastSeq(ctx context.Context, runID string) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM run_events WHERE run_id = ?
	`, runID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Report is a journalled run with its report tables.
type Report struct {
	Run               Run                       `json:"run"`
	Progress          []progress.EntityProgress `json:"progress"`
	Unresolved        []importer.Unresolved     `json:"unresolved"`
	Failures          []importer.Failure        `json:"failures"`
	ReconcileFailures []importer.Failure        `json:"reconcile_failures"`
	Deactivations     []Deactivation            `json:"deactivations"`
}

// Deactivation is one queued deactivation and its drain state.
type Deactivation struct {
	Entity        string `json:"entity"`
	ID            string `json:"id"`
	DeactivatedAt string `json:"deactivated_at,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Pending reports whether the deactivation has not been applied yet.
func (d Deactivation) Pending() bool { return d.DeactivatedAt == "" }

// ReadReport loads a run and its report tables.
func (s *Store) ReadReport(ctx context.Context, runID string) (*Report, error) {
	run, err := s.ReadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rep := &Report{Run: run}

	if rep.Progress, err = s.readProgress(ctx, runID); err != nil {
		return nil, err
	}
	if rep.Unresolved, err = s.readUnresolved(ctx, runID); err != nil {
		return nil, err
	}
	if rep.Failures, err = s.readFailures(ctx, runID, PhaseImport); err != nil {
		return nil, err
	}
	if rep.ReconcileFailures, err = s.readFailures(ctx, runID, PhaseReconcile); err != nil {
		return nil, err
	}
	if rep.Deactivations, err = s.readDeactivations(ctx, runID); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *Store) readProgress(ctx context.Context, runID string) ([]progress.EntityProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity, label, processed, succeeded, failed
		FROM run_progress WHERE run_id = ?
		ORDER BY entity COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	defer rows.Close()

	out := []progress.EntityProgress{}
	for rows.Next() {
		var p progress.EntityProgress
		if err := rows.Scan(&p.Entity, &p.Label, &p.Processed, &p.Succeeded, &p.Failed); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) readUnresolved(ctx context.Context, runID string) ([]importer.Unresolved, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity, record_id, reason
		FROM run_unresolved WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read unresolved: %w", err)
	}
	defer rows.Close()

	out := []importer.Unresolved{}
	for rows.Next() {
		var u importer.Unresolved
		if err := rows.Scan(&u.Entity, &u.ID, &u.Reason); err != nil {
			return nil, fmt.Errorf("scan unresolved: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) readFailures(ctx context.Context, runID, phase string) ([]importer.Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity, record_id, op, message
		FROM run_failures WHERE run_id = ? AND phase = ?
		ORDER BY position ASC
	`, runID, phase)
	if err != nil {
		return nil, fmt.Errorf("read %s failures: %w", phase, err)
	}
	defer rows.Close()

	out := []importer.Failure{}
	for rows.Next() {
		var f importer.Failure
		if err := rows.Scan(&f.Entity, &f.ID, &f.Op, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) readDeactivations(ctx context.Context, runID string) ([]Deactivation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity, record_id, deactivated_at, error
		FROM deactivations WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read deactivations: %w", err)
	}
	defer rows.Close()

	out := []Deactivation{}
	for rows.Next() {
		var d Deactivation
		if err := rows.Scan(&d.Entity, &d.ID, &d.DeactivatedAt, &d.Error); err != nil {
			return nil, fmt.Errorf("scan deactivation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PendingDeactivations returns the queued identities of a run that have
// not been deactivated yet, in queue order.
func (s *Store) PendingDeactivations(ctx context.Context, runID string) ([]record.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity, record_id
		FROM deactivations WHERE run_id = ? AND deactivated_at = ''
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("pending deactivations: %w", err)
	}
	defer rows.Close()

	out := []record.Identity{}
	for rows.Next() {
		var id record.Identity
		if err := rows.Scan(&id.Entity, &id.ID); err != nil {
			return nil, fmt.Errorf("scan deactivation: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
