package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the relay's collectors. A single instance is created
// at wiring time and injected, so tests can run isolated registries.
type Metrics struct {
	RoomEvents        *prometheus.CounterVec
	DroppedEvents     *prometheus.CounterVec
	Broadcasts        prometheus.Counter
	ScorerFailures    prometheus.Counter
	NotifierFailures  prometheus.Counter
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
}

// New registers all collectors against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoomEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_room_events_total",
			Help: "Room events processed, by event type.",
		}, []string{"event"}),
		DroppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_room_events_dropped_total",
			Help: "Room events dropped by the error policy, by reason.",
		}, []string{"reason"}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_broadcasts_total",
			Help: "Events fanned out to room members.",
		}),
		ScorerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_scorer_failures_total",
			Help: "Risk scorer calls that failed or timed out.",
		}),
		NotifierFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_notifier_failures_total",
			Help: "Notification deliveries that failed.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lifeline_active_connections",
			Help: "Currently registered room connections.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lifeline_active_rooms",
			Help: "Rooms with at least one member.",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests and
// components that do not report.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
