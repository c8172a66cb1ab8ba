package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/markduk/portalmover/internal/importer"
)

// Metrics is a Prometheus registry for one process. Each Metrics owns its
// registry so tests and repeated runs do not share counters.
type Metrics struct {
	reg *prometheus.Registry

	records       *prometheus.CounterVec
	sweeps        prometheus.Gauge
	unresolved    prometheus.Gauge
	reconciled    *prometheus.CounterVec
	deactivations *prometheus.CounterVec
	callLatency   *prometheus.HistogramVec
}

// NewMetrics creates and registers the import metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portalmover",
			Name:      "records_total",
			Help:      "Records written, by entity and outcome.",
		}, []string{"entity", "outcome"}),
		sweeps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portalmover",
			Name:      "sweeps",
			Help:      "Sweeps made by the last import run.",
		}),
		unresolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portalmover",
			Name:      "unresolved_records",
			Help:      "Records left unresolved by the last import run.",
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portalmover",
			Name:      "reconciled_total",
			Help:      "Deferred reference updates, by result.",
		}, []string{"result"}),
		deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portalmover",
			Name:      "deactivations_total",
			Help:      "Deactivation updates, by result.",
		}, []string{"result"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portalmover",
			Name:      "remote_call_seconds",
			Help:      "Latency distribution of remote calls.",
			Buckets: []float64{
				0.005, 0.01, 0.025,
				0.05, 0.1, 0.25,
				0.5, 1, 2.5, 5, 10,
			},
		}, []string{"op", "result"}),
	}
	m.reg.MustRegister(m.records, m.sweeps, m.unresolved, m.reconciled, m.deactivations, m.callLatency)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveEvent updates counters from one engine event. It has the
// importer.EventHandler signature.
func (m *Metrics) ObserveEvent(ev importer.Event) {
	switch ev.Kind {
	case importer.EventCreate, importer.EventUpdate, importer.EventAssociate:
		m.records.WithLabelValues(ev.Entity, "succeeded").Inc()
	case importer.EventFail:
		m.records.WithLabelValues(ev.Entity, "failed").Inc()
	case importer.EventSweep:
		m.sweeps.Set(float64(ev.Sweep))
	case importer.EventReconcile:
		m.reconciled.WithLabelValues("succeeded").Inc()
	case importer.EventReconcileFail:
		m.reconciled.WithLabelValues("failed").Inc()
	case importer.EventReconcileSkip:
		m.reconciled.WithLabelValues("skipped").Inc()
	}
}

// ObserveResult records the run-level gauges.
func (m *Metrics) ObserveResult(res *importer.Result) {
	m.sweeps.Set(float64(res.Sweeps))
	m.unresolved.Set(float64(len(res.Unresolved)))
}

// ObserveDrain counts the outcome of a deactivation drain.
func (m *Metrics) ObserveDrain(res *importer.DrainResult) {
	m.deactivations.WithLabelValues("succeeded").Add(float64(len(res.Deactivated)))
	m.deactivations.WithLabelValues("failed").Add(float64(len(res.Failures)))
}

// ObserveCall records one remote call.
func (m *Metrics) ObserveCall(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.callLatency.WithLabelValues(op, result).Observe(d.Seconds())
}

// WriteTextfile writes the registry in the Prometheus text format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
