package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the relay's prometheus instruments.
type Collector struct {
	ActiveSessions prometheus.Gauge
	ActiveRooms    prometheus.Gauge
	Relayed        *prometheus.CounterVec
	JoinsRejected  prometheus.Counter
	ChatMessages   prometheus.Counter
}

func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_active_sessions",
			Help: "Sessions currently joined to a room.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_active_rooms",
			Help: "Rooms with at least one member.",
		}),
		Relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_messages_relayed_total",
			Help: "Signaling messages forwarded or broadcast, by kind.",
		}, []string{"kind"}),
		JoinsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "mesh_joins_rejected_total",
			Help: "Join requests rejected by the access policy.",
		}),
		ChatMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "mesh_chat_messages_total",
			Help: "Chat messages broadcast to rooms.",
		}),
	}
}
