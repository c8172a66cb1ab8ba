package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/record"
)

// StageResult counts what StageRecords did.
type StageResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// StageRecords stores records for a later import. A record whose identity
// is already staged replaces the staged attributes when its content hash
// differs and is left alone otherwise; either way it keeps its original
// position. All records are staged in one transaction.
func (s *Store) StageRecords(ctx context.Context, source string, recs []record.Record) (StageResult, error) {
	var res StageResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("stage records: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, r := range recs {
		attrs, err := marshalAttributes(r)
		if err != nil {
			return StageResult{}, fmt.Errorf("stage %s: %w", r.Identity(), err)
		}
		hash, err := record.ContentHash(r)
		if err != nil {
			return StageResult{}, fmt.Errorf("stage %s: %w", r.Identity(), err)
		}

		var existing string
		err = tx.QueryRowContext(ctx, `
			SELECT content_hash FROM staged_records WHERE entity = ? AND record_id = ?
		`, r.Entity, r.ID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO staged_records (entity, record_id, attributes, content_hash, source)
				VALUES (?, ?, ?, ?, ?)
			`, r.Entity, r.ID, attrs, hash, source)
			if err != nil {
				return StageResult{}, fmt.Errorf("stage %s: %w", r.Identity(), err)
			}
			res.Inserted++
		case err != nil:
			return StageResult{}, fmt.Errorf("stage %s: %w", r.Identity(), err)
		case existing == hash:
			res.Unchanged++
		default:
			_, err = tx.ExecContext(ctx, `
				UPDATE staged_records SET attributes = ?, content_hash = ?, source = ?
				WHERE entity = ? AND record_id = ?
			`, attrs, hash, source, r.Entity, r.ID)
			if err != nil {
				return StageResult{}, fmt.Errorf("stage %s: %w", r.Identity(), err)
			}
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return StageResult{}, fmt.Errorf("stage records: commit: %w", err)
	}
	return res, nil
}

// Run is one journalled import run.
type Run struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	DryRun     bool      `json:"dry_run"`
	Status     string    `json:"status"`
	Sweeps     int       `json:"sweeps"`
	Reconciled int       `json:"reconciled"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Run statuses.
const (
	StatusRunning    = "running"
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
	StatusCancelled  = "cancelled"
)

// BeginRun records the start of a run. Starting a run ID twice is a
// no-op.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, target, dry_run, status, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Target, run.DryRun, StatusRunning, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// AppendEvent journals one engine event. Uses ON CONFLICT DO NOTHING so a
// re-delivered event is ignored.
func (s *Store) AppendEvent(ctx context.Context, runID string, ev importer.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, seq, sweep, kind, entity, record_id, label, message, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`, runID, ev.Seq, ev.Sweep, string(ev.Kind), ev.Entity, ev.ID, ev.Label, ev.Message, ev.Err)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// FinishRun stores the run report and closes the run. The status is
// complete when nothing was left unresolved, cancelled when cancelled is
// true, and incomplete otherwise.
func (s *Store) FinishRun(ctx context.Context, res *importer.Result, cancelled bool, finishedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	status := StatusComplete
	switch {
	case cancelled:
		status = StatusCancelled
	case !res.Complete():
		status = StatusIncomplete
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, sweeps = ?, reconciled = ?, finished_at = ?
		WHERE id = ?
	`, status, res.Sweeps, res.Reconciled, formatTime(finishedAt), res.RunID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", res.RunID, ErrRunNotFound)
	}

	for _, p := range res.Progress {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_progress (run_id, entity, label, processed, succeeded, failed)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, entity) DO NOTHING
		`, res.RunID, p.Entity, p.Label, p.Processed, p.Succeeded, p.Failed); err != nil {
			return fmt.Errorf("finish run: progress: %w", err)
		}
	}

	for i, u := range res.Unresolved {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_unresolved (run_id, position, entity, record_id, reason)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, res.RunID, i, u.Entity, u.ID, u.Reason); err != nil {
			return fmt.Errorf("finish run: unresolved: %w", err)
		}
	}

	if err := insertFailures(ctx, tx, res.RunID, PhaseImport, res.Failures); err != nil {
		return err
	}
	if err := insertFailures(ctx, tx, res.RunID, PhaseReconcile, res.ReconcileFailures); err != nil {
		return err
	}

	for i, id := range res.Deactivations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deactivations (run_id, position, entity, record_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, res.RunID, i, id.Entity, id.ID); err != nil {
			return fmt.Errorf("finish run: deactivations: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish run: commit: %w", err)
	}
	return nil
}

// Failure phases.
const (
	PhaseImport    = "import"
	PhaseReconcile = "reconcile"
)

func insertFailures(ctx context.Context, tx *sql.Tx, runID, phase string, failures []importer.Failure) error {
	for i, f := range failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_failures (run_id, position, phase, entity, record_id, op, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, runID, i, phase, f.Entity, f.ID, f.Op, f.Message); err != nil {
			return fmt.Errorf("finish run: %s failures: %w", phase, err)
		}
	}
	return nil
}

// MarkDeactivated records a successful drain of one queued identity.
func (s *Store) MarkDeactivated(ctx context.Context, runID string, id record.Identity, at time.Time) error {
	return s.markDeactivation(ctx, runID, id, formatTime(at), "")
}

// MarkDeactivationFailed records a failed drain attempt. The identity
// stays pending.
func (s *Store) MarkDeactivationFailed(ctx context.Context, runID string, id record.Identity, msg string) error {
	return s.markDeactivation(ctx, runID, id, "", msg)
}

// RecordDrain stores the drain outcome of each identity, in queue order,
// and journals one event per attempted identity after the run's last
// event. Identities the drain never reached are left untouched. label
// resolves an entity's display label. The journalled events are returned.
func (s *Store) RecordDrain(ctx context.Context, runID string, ids []record.Identity, res *importer.DrainResult, label func(entity string) string, at time.Time) ([]importer.Event, error) {
	done := make(map[record.Identity]bool, len(res.Deactivated))
	for _, id := range res.Deactivated {
		done[id] = true
	}
	failed := make(map[record.Identity]importer.Failure, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.Identity()] = f
	}

	last, err := s.LastSeq(ctx, runID)
	if err != nil {
		return nil, err
	}
	clock := importer.NewClockAt(last)

	var events []importer.Event
	for _, id := range ids {
		ev := importer.Event{Entity: id.Entity, ID: id.ID}
		if label != nil {
			ev.Label = label(id.Entity)
		}
		switch f, isFailure := failed[id]; {
		case done[id]:
			if err := s.MarkDeactivated(ctx, runID, id, at); err != nil {
				return events, err
			}
			ev.Kind = importer.EventDeactivate
		case isFailure:
			if err := s.MarkDeactivationFailed(ctx, runID, id, f.Message); err != nil {
				return events, err
			}
			ev.Kind = importer.EventDeactivateFail
			ev.Err = f.Message
		default:
			continue
		}
		ev.Seq = clock.Next()
		if err := s.AppendEvent(ctx, runID, ev); err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) markDeactivation(ctx context.Context, runID string, id record.Identity, at, msg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deactivations SET deactivated_at = ?, error = ?
		WHERE run_id = ? AND entity = ? AND record_id = ?
	`, at, msg, runID, id.Entity, id.ID)
	if err != nil {
		return fmt.Errorf("mark deactivation %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mark deactivation %s: not queued in run %s", id, runID)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
