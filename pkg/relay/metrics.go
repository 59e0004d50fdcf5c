package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshmeet_relay_connections",
		Help: "Current number of live websocket connections.",
	})
	metricRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshmeet_relay_rooms",
		Help: "Current number of rooms.",
	})
	metricParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshmeet_relay_participants",
		Help: "Current number of joined participants.",
	})
	metricSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshmeet_relay_signals_total",
		Help: "Relayed negotiation payloads by outcome.",
	}, []string{"outcome"})
	metricBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshmeet_relay_broadcasts_total",
		Help: "Room-wide event fan-outs.",
	})
	metricSweptRooms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshmeet_relay_swept_rooms_total",
		Help: "Empty rooms removed by the periodic sweep.",
	})
)
