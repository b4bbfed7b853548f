// ABOUTME: Prometheus counters for capture and sync
// ABOUTME: All methods are nil-safe so components can run without metrics

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the walktrack collectors.
type Metrics struct {
	readingsAccepted prometheus.Counter
	readingsRejected *prometheus.CounterVec
	appendFailures   prometheus.Counter
	syncBatches      *prometheus.CounterVec
	samplesSynced    prometheus.Counter
	registry         *prometheus.Registry
}

// Batch outcomes.
const (
	OutcomeSynced   = "synced"
	OutcomeRetry    = "retry"
	OutcomeRejected = "rejected"
)

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		readingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walktrack_readings_accepted_total",
			Help: "Readings accepted by the validator.",
		}),
		readingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walktrack_readings_rejected_total",
			Help: "Readings rejected by the validator, by reason.",
		}, []string{"reason"}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walktrack_append_failures_total",
			Help: "Accepted samples that could not be written to the local queue.",
		}),
		syncBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walktrack_sync_batches_total",
			Help: "Batches submitted to the remote store, by outcome.",
		}, []string{"outcome"}),
		samplesSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walktrack_samples_synced_total",
			Help: "Samples acknowledged by the remote store.",
		}),
		registry: reg,
	}
	reg.MustRegister(m.readingsAccepted, m.readingsRejected, m.appendFailures, m.syncBatches, m.samplesSynced)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ReadingAccepted() {
	if m == nil {
		return
	}
	m.readingsAccepted.Inc()
}

func (m *Metrics) ReadingRejected(reason string) {
	if m == nil {
		return
	}
	m.readingsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) AppendFailed() {
	if m == nil {
		return
	}
	m.appendFailures.Inc()
}

// BatchDone records one submitted batch of n samples.
func (m *Metrics) BatchDone(outcome string, n int) {
	if m == nil {
		return
	}
	m.syncBatches.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSynced {
		m.samplesSynced.Add(float64(n))
	}
}
