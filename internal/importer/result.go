package importer

import (
	"github.com/markduk/portalmover/internal/progress"
	"github.com/markduk/portalmover/internal/record"
)

// Unresolved is a record still in the batch when the run stopped.
type Unresolved struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Failure is a rejected write.
type Failure struct {
	Entity  string `json:"entity"`
	ID      string `json:"id"`
	Op      string `json:"op"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func newFailure(id record.Identity, op string, err error) Failure {
	return Failure{Entity: id.Entity, ID: id.ID, Op: op, Message: err.Error(), Err: err}
}

// Identity returns the failed record's identity.
func (f Failure) Identity() record.Identity {
	return record.Identity{Entity: f.Entity, ID: f.ID}
}

// Result reports one import run.
type Result struct {
	RunID             string                    `json:"run_id"`
	Sweeps            int                       `json:"sweeps"`
	Progress          []progress.EntityProgress `json:"progress"`
	Deactivations     []record.Identity         `json:"deactivations"`
	Unresolved        []Unresolved              `json:"unresolved"`
	Failures          []Failure                 `json:"failures"`
	Reconciled        int                       `json:"reconciled"`
	ReconcileFailures []Failure                 `json:"reconcile_failures"`
	ReconcileSkipped  []record.Identity         `json:"reconcile_skipped"`
	LastSeq           int64                     `json:"last_seq"`
}

// Complete reports whether every record was written or failed.
func (r *Result) Complete() bool {
	return len(r.Unresolved) == 0
}

// Err returns a SweepsExhaustedError when records were left unresolved.
func (r *Result) Err() error {
	if r.Complete() {
		return nil
	}
	return &SweepsExhaustedError{RunID: r.RunID, Sweeps: r.Sweeps, Unresolved: len(r.Unresolved)}
}

// Totals sums the per-entity progress.
func (r *Result) Totals() progress.EntityProgress {
	var t progress.EntityProgress
	for _, p := range r.Progress {
		t.Processed += p.Processed
		t.Succeeded += p.Succeeded
		t.Failed += p.Failed
	}
	return t
}
