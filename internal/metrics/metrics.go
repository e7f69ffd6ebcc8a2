package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported by the relay.
const (
	ReasonNotMember    = "not_member"
	ReasonRoomMismatch = "room_mismatch"
	ReasonInvalid      = "invalid"
	ReasonUnknownEvent = "unknown_event"
	ReasonRateLimited  = "rate_limited"
	ReasonBufferFull   = "buffer_full"
	ReasonNoRecipient  = "no_recipient"
)

// Relay groups the signaling relay collectors.
type Relay struct {
	Rooms     prometheus.Gauge
	Endpoints prometheus.Gauge
	Members   prometheus.Gauge
	Relayed   *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
}

// NewRelay creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewRelay(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncwatch",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Endpoints: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncwatch",
			Subsystem: "relay",
			Name:      "endpoints",
			Help:      "Connected websocket endpoints.",
		}),
		Members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncwatch",
			Subsystem: "relay",
			Name:      "members",
			Help:      "Endpoints that joined a room.",
		}),
		Relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncwatch",
			Subsystem: "relay",
			Name:      "forwarded_total",
			Help:      "Messages delivered to a room member, by event.",
		}, []string{"event"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncwatch",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Messages dropped by the relay, by reason.",
		}, []string{"reason"}),
	}
}

func (r *Relay) Drop(reason string) {
	if r == nil {
		return
	}
	r.Dropped.WithLabelValues(reason).Inc()
}

func (r *Relay) Forwarded(event string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.Relayed.WithLabelValues(event).Add(float64(n))
}

// Occupancy sets the room/member gauges.
func (r *Relay) Occupancy(rooms, members int) {
	if r == nil {
		return
	}
	r.Rooms.Set(float64(rooms))
	r.Members.Set(float64(members))
}
