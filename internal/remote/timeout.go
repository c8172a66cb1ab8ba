package remote

import (
	"context"
	"time"

	"github.com/markduk/portalmover/internal/query"
	"github.com/markduk/portalmover/internal/record"
)

// WithTimeout bounds every call on c to d. A zero or negative d returns c
// unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{inner: c, timeout: d}
}

type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

func (t *timeoutClient) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Upsert(ctx, rec)
}

func (t *timeoutClient) Associate(ctx context.Context, a Association) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Associate(ctx, a)
}

func (t *timeoutClient) Update(ctx context.Context, rec record.Record) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Update(ctx, rec)
}

func (t *timeoutClient) Query(ctx context.Context, q query.Query) ([]record.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Query(ctx, q)
}
