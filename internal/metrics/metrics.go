// Package metrics counts allocation engine outcomes.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "regpatrol"

// Outcome labels.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Recorder holds the engine's collectors on its own registry.
type Recorder struct {
	Registry        *prometheus.Registry
	Operations      *prometheus.CounterVec
	HistoryEntries  *prometheus.CounterVec
	Displacements   prometheus.Counter
	PersistFailures *prometheus.CounterVec
	HistorySize     prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_operations_total",
			Help:      "Allocation assign/remove calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		HistoryEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_history_entries_total",
			Help:      "Allocation history entries appended by role and action.",
		}, []string{"role", "action"}),
		Displacements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_displacements_total",
			Help:      "Assignments that removed a previous holder.",
		}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Failed writes to the durable store by key.",
		}, []string{"key"}),
		HistorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocation_history_size",
			Help:      "Entries in the allocation history log.",
		}),
	}
	r.Registry.MustRegister(r.Operations, r.HistoryEntries, r.Displacements, r.PersistFailures, r.HistorySize)
	return r
}

// Operation counts one engine call. Safe on a nil Recorder.
func (r *Recorder) Operation(op, outcome string) {
	if r == nil {
		return
	}
	r.Operations.WithLabelValues(op, outcome).Inc()
}

func (r *Recorder) HistoryEntry(role, action string) {
	if r == nil {
		return
	}
	r.HistoryEntries.WithLabelValues(role, action).Inc()
}

func (r *Recorder) Displaced() {
	if r == nil {
		return
	}
	r.Displacements.Inc()
}

func (r *Recorder) PersistFailed(key string) {
	if r == nil {
		return
	}
	r.PersistFailures.WithLabelValues(key).Inc()
}

func (r *Recorder) HistoryLen(n int) {
	if r == nil {
		return
	}
	r.HistorySize.Set(float64(n))
}

// Write encodes every collected metric in the text exposition format.
func (r *Recorder) Write(w io.Writer) error {
	families, err := r.Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Registry)
}
