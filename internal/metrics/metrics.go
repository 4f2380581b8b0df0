// Package metrics exposes prometheus instrumentation for ingestion and read-state changes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion results.
const (
	ResultOK        = "ok"
	ResultBadInput  = "bad_input"
	ResultNetwork   = "network_error"
	ResultFeedParse = "feed_parse_error"
	ResultDatabase  = "database_error"
)

// Metrics holds the reader's collectors. A nil *Metrics records nothing.
type Metrics struct {
	ingestions    *prometheus.CounterVec
	ingestedItems prometheus.Counter
	toggles       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_ingestions_total",
			Help: "Feed subscriptions attempted, by result.",
		}, []string{"result"}),
		ingestedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkwell_ingested_entries_total",
			Help: "Entries persisted by successful subscriptions.",
		}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_entry_toggles_total",
			Help: "Read-state toggles, by resulting state.",
		}, []string{"state"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inkwell_fetch_duration_seconds",
			Help:    "Duration of outbound feed fetches.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.ingestions, m.ingestedItems, m.toggles, m.fetchDuration)
	return m
}

// ObserveIngestion records one subscription attempt.
func (m *Metrics) ObserveIngestion(result string, entries int) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.ingestedItems.Add(float64(entries))
	}
}

// ObserveToggle records a read-state change.
func (m *Metrics) ObserveToggle(state string) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(state).Inc()
}

// ObserveFetch records the duration of an outbound fetch.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}
