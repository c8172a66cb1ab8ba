package remote

import (
	"context"
	"fmt"

	"github.com/markduk/portalmover/internal/query"
	"github.com/markduk/portalmover/internal/record"
)

// Client executes writes and reads against the remote store.
type Client interface {
	// Upsert creates or updates a record by identity. created reports
	// whether the record did not exist before. An existing record is not
	// an error.
	Upsert(ctx context.Context, rec record.Record) (created bool, err error)

	// Associate links two records through a many-to-many relationship.
	// A link that already exists fails with a duplicate-association fault
	// (see IsDuplicateAssociation).
	Associate(ctx context.Context, a Association) error

	// Update applies a partial attribute update to an existing record.
	Update(ctx context.Context, rec record.Record) error

	// Query retrieves records.
	Query(ctx context.Context, q query.Query) ([]record.Record, error)
}

// Association names one many-to-many link.
type Association struct {
	Relationship string
	From         record.Identity
	To           record.Identity
}

// String renders the association for logs.
func (a Association) String() string {
	return fmt.Sprintf("%s --%s--> %s", a.From, a.Relationship, a.To)
}
