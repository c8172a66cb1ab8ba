package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/markduk/portalmover/internal/query"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
)

const remoteScopeName = "github.com/markduk/portalmover/remote"

// InstrumentedClient wraps remote.Client with OTel tracing and metrics.
// Every call gets a span, is counted in portalmover.remote.* metrics and,
// when Prometheus metrics are attached, observed in
// portalmover_remote_call_seconds.
type InstrumentedClient struct {
	inner   remote.Client
	tracer  trace.Tracer
	ops     metric.Int64Counter
	dur     metric.Float64Histogram
	errs    metric.Int64Counter
	metrics *Metrics
}

// WrapClient returns c decorated with instrumentation. When telemetry is
// disabled and m is nil, c is returned as-is.
func WrapClient(c remote.Client, p *Provider, m *Metrics) remote.Client {
	if !p.Enabled() && m == nil {
		return c
	}
	if !p.Enabled() {
		p = nil
	}

	ic := &InstrumentedClient{inner: c, metrics: m}
	if p != nil {
		meter := p.Meter(remoteScopeName)
		ic.tracer = p.Tracer(remoteScopeName)
		ic.ops, _ = meter.Int64Counter("portalmover.remote.calls",
			metric.WithDescription("Total remote calls executed"),
		)
		ic.dur, _ = meter.Float64Histogram("portalmover.remote.call.duration",
			metric.WithDescription("Remote call duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		ic.errs, _ = meter.Int64Counter("portalmover.remote.errors",
			metric.WithDescription("Total remote call errors"),
		)
	}
	return ic
}

// call holds the span and timing of one remote call.
type call struct {
	span  trace.Span
	start time.Time
	op    remote.Op
	attrs []attribute.KeyValue
}

// begin starts a span and counts the call.
func (c *InstrumentedClient) begin(ctx context.Context, op remote.Op, attrs ...attribute.KeyValue) (context.Context, *call) {
	all := append([]attribute.KeyValue{attribute.String("portalmover.op", string(op))}, attrs...)
	cl := &call{start: time.Now(), op: op, attrs: all}
	if c.tracer != nil {
		ctx, cl.span = c.tracer.Start(ctx, "remote."+string(op),
			trace.WithAttributes(all...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		c.ops.Add(ctx, 1, metric.WithAttributes(all...))
	}
	return ctx, cl
}

// end records duration and the optional error, then ends the span.
func (c *InstrumentedClient) end(ctx context.Context, cl *call, err error) {
	elapsed := time.Since(cl.start)
	if c.metrics != nil {
		c.metrics.ObserveCall(string(cl.op), elapsed, err)
	}
	if cl.span == nil {
		return
	}
	c.dur.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(cl.attrs...))
	if err != nil {
		cl.span.RecordError(err)
		cl.span.SetStatus(codes.Error, err.Error())
		c.errs.Add(ctx, 1, metric.WithAttributes(cl.attrs...))
	}
	cl.span.End()
}

func identityAttrs(id record.Identity) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("portalmover.entity", id.Entity),
		attribute.String("portalmover.record.id", id.ID),
	}
}

func (c *InstrumentedClient) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	ctx, cl := c.begin(ctx, remote.OpUpsert, identityAttrs(rec.Identity())...)
	created, err := c.inner.Upsert(ctx, rec)
	if err == nil && cl.span != nil {
		cl.span.SetAttributes(attribute.Bool("portalmover.created", created))
	}
	c.end(ctx, cl, err)
	return created, err
}

func (c *InstrumentedClient) Associate(ctx context.Context, a remote.Association) error {
	attrs := append(identityAttrs(a.From),
		attribute.String("portalmover.relationship", a.Relationship),
		attribute.String("portalmover.related.id", a.To.ID),
	)
	ctx, cl := c.begin(ctx, remote.OpAssociate, attrs...)
	err := c.inner.Associate(ctx, a)
	c.end(ctx, cl, err)
	return err
}

func (c *InstrumentedClient) Update(ctx context.Context, rec record.Record) error {
	attrs := append(identityAttrs(rec.Identity()), attribute.Int("portalmover.attribute.count", len(rec.Attributes)))
	ctx, cl := c.begin(ctx, remote.OpUpdate, attrs...)
	err := c.inner.Update(ctx, rec)
	c.end(ctx, cl, err)
	return err
}

func (c *InstrumentedClient) Query(ctx context.Context, q query.Query) ([]record.Record, error) {
	ctx, cl := c.begin(ctx, remote.OpQuery, attribute.String("portalmover.entity", q.Entity))
	recs, err := c.inner.Query(ctx, q)
	if err == nil && cl.span != nil {
		cl.span.SetAttributes(attribute.Int("portalmover.result.count", len(recs)))
	}
	c.end(ctx, cl, err)
	return recs, err
}
