package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/markduk/portalmover/internal/query"
	"github.com/markduk/portalmover/internal/record"
)

// RetryPolicy bounds retries of transient faults.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Logger          *slog.Logger
}

// DefaultRetryPolicy retries for up to 30 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// WithRetry wraps c so transient faults (throttling, 5xx, network errors)
// are retried with exponential backoff. Every other error, including the
// duplicate-association fault, is returned on the first attempt.
func WithRetry(c Client, p RetryPolicy) Client {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &retryingClient{inner: c, policy: p}
}

type retryingClient struct {
	inner  Client
	policy RetryPolicy
}

func (r *retryingClient) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		bo.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		bo.MaxInterval = r.policy.MaxInterval
	}
	bo.MaxElapsedTime = r.policy.MaxElapsedTime
	return bo
}

func (r *retryingClient) do(ctx context.Context, op string, target string, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		r.policy.Logger.Debug("transient remote fault, retrying",
			"op", op,
			"target", target,
			"attempt", attempt,
			"error", err)
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(r.newBackOff(), ctx))
}

func (r *retryingClient) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	var created bool
	err := r.do(ctx, "upsert", rec.Identity().String(), func() error {
		var err error
		created, err = r.inner.Upsert(ctx, rec)
		return err
	})
	return created, err
}

func (r *retryingClient) Associate(ctx context.Context, a Association) error {
	return r.do(ctx, "associate", a.String(), func() error {
		return r.inner.Associate(ctx, a)
	})
}

func (r *retryingClient) Update(ctx context.Context, rec record.Record) error {
	return r.do(ctx, "update", rec.Identity().String(), func() error {
		return r.inner.Update(ctx, rec)
	})
}

func (r *retryingClient) Query(ctx context.Context, q query.Query) ([]record.Record, error) {
	var out []record.Record
	err := r.do(ctx, "query", q.Entity, func() error {
		var err error
		out, err = r.inner.Query(ctx, q)
		return err
	})
	return out, err
}
