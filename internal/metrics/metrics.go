// Package metrics holds docseed's Prometheus instruments. Instruments are
// registered on a caller-supplied registry; a nil *Metrics is a valid no-op
// so library code never has to check.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records bundle write activity.
type Metrics struct {
	writes          *prometheus.CounterVec
	writeErrors     *prometheus.CounterVec
	retries         *prometheus.CounterVec
	rollbacks       prometheus.Counter
	rollbackDeleted prometheus.Counter
	writeDuration   prometheus.Histogram
}

// New registers every instrument on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docseed_bundle_writes_total",
			Help: "Completed bundle writes by outcome",
		}, []string{"outcome"}),

		writeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docseed_bundle_write_errors_total",
			Help: "Failed bundle writes by error code",
		}, []string{"code"}),

		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docseed_storage_retries_total",
			Help: "Storage operation retries by operation",
		}, []string{"op"}),

		rollbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "docseed_orphan_rollbacks_total",
			Help: "Failed writes whose tracked artifacts were rolled back",
		}),

		rollbackDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "docseed_rollback_deleted_total",
			Help: "Artifacts deleted by rollback",
		}),

		writeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docseed_bundle_write_duration_seconds",
			Help:    "Duration of bundle writes, successful or not",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
}

// ObserveWrite records a completed write.
func (m *Metrics) ObserveWrite(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(outcome).Inc()
	m.writeDuration.Observe(d.Seconds())
}

// ObserveError records a failed write.
func (m *Metrics) ObserveError(code string, d time.Duration) {
	if m == nil {
		return
	}
	m.writeErrors.WithLabelValues(code).Inc()
	m.writeDuration.Observe(d.Seconds())
}

// ObserveRetry records one retry of op.
func (m *Metrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// ObserveRollback records a rollback that deleted n artifacts.
func (m *Metrics) ObserveRollback(n int) {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
	m.rollbackDeleted.Add(float64(n))
}

// WriteTextfile writes everything gathered from g to path in the node
// exporter textfile format.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
