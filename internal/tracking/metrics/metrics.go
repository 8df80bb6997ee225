package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsRecorded      *prometheus.CounterVec
	MutationsDropped    *prometheus.CounterVec
	PersistenceFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tsunami_events_recorded_total",
			Help: "Total number of audit events persisted, by change kind",
		}, []string{"kind"}),
		MutationsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tsunami_mutations_dropped_total",
			Help: "Total number of mutation notifications dropped without an event, by reason",
		}, []string{"reason"}),
		PersistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tsunami_persistence_failures_total",
			Help: "Total number of failed event store transactions",
		}),
	}
}

func (m *Metrics) Recorded(kind string) {
	m.EventsRecorded.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dropped(reason string) {
	m.MutationsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) PersistFailed() {
	m.PersistenceFailures.Inc()
}
