// Package metrics exposes ingestion counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edibridge"

// Metrics records transaction outcomes and lock contention.
type Metrics struct {
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	lockRetries  *prometheus.CounterVec
	files        *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "EDI transactions processed, by transaction set and outcome.",
		}, []string{"set", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time spent applying one EDI transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"set"}),
		lockRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_retries_total",
			Help:      "Row lock attempts retried because of contention.",
		}, []string{"kind"}),
		files: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "EDI files processed, by archive status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) ObserveTransaction(set, outcome string, elapsed time.Duration) {
	m.transactions.WithLabelValues(set, outcome).Inc()
	m.duration.WithLabelValues(set).Observe(elapsed.Seconds())
}

func (m *Metrics) LockRetry(kind string) {
	m.lockRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveFile(status string) {
	m.files.WithLabelValues(status).Inc()
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
