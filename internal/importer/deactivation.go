package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
)

// State and status values applied by Drain.
const (
	InactiveState  record.OptionSet = 1
	InactiveStatus record.OptionSet = 2
)

// DeactivationQueue holds identities to deactivate once the import is
// done, in enqueue order and without duplicates.
type DeactivationQueue struct {
	order []record.Identity
	seen  map[record.Identity]bool
}

// NewDeactivationQueue creates an empty queue.
func NewDeactivationQueue() *DeactivationQueue {
	return &DeactivationQueue{seen: map[record.Identity]bool{}}
}

// Enqueue appends id unless it is already queued. It reports whether id
// was added.
func (q *DeactivationQueue) Enqueue(id record.Identity) bool {
	if q.seen[id] {
		return false
	}
	q.seen[id] = true
	q.order = append(q.order, id)
	return true
}

// Len returns the number of queued identities.
func (q *DeactivationQueue) Len() int { return len(q.order) }

// Items returns the queued identities in enqueue order.
func (q *DeactivationQueue) Items() []record.Identity {
	return append([]record.Identity(nil), q.order...)
}

// DrainResult reports the outcome of Drain.
type DrainResult struct {
	Deactivated []record.Identity
	Failures    []Failure
}

// Drain deactivates each identity with one Update setting the inactive
// state and status. A failed update is recorded and the drain continues;
// only context cancellation stops it early.
func Drain(ctx context.Context, client remote.Client, ids []record.Identity, logger *slog.Logger) (*DrainResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := &DrainResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("drain deactivations: %w", err)
		}
		rec := record.Record{
			Entity: id.Entity,
			ID:     id.ID,
			Attributes: map[string]record.Value{
				StateAttribute:  InactiveState,
				StatusAttribute: InactiveStatus,
			},
		}
		if err := client.Update(ctx, rec); err != nil {
			logger.Warn("deactivation failed", "entity", id.Entity, "id", id.ID, "error", err)
			res.Failures = append(res.Failures, newFailure(id, "deactivate", err))
			continue
		}
		logger.Debug("record deactivated", "entity", id.Entity, "id", id.ID)
		res.Deactivated = append(res.Deactivated, id)
	}
	return res, nil
}
