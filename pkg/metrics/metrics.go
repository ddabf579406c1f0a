package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poker_rooms_active",
		Help: "Rooms currently held in the registry.",
	})

	MembersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poker_members_connected",
		Help: "Members registered across all rooms.",
	})

	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poker_broadcasts_total",
		Help: "State snapshots fanned out to a room.",
	})

	// MessagesDropped is labelled by reason: malformed, unknown_action,
	// missing_field, not_member.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poker_messages_dropped_total",
		Help: "Inbound client messages discarded without reply.",
	}, []string{"reason"})

	// ConnectionsRejected is labelled by reason: missing_params, rate_limit.
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poker_connections_rejected_total",
		Help: "WebSocket attempts refused before upgrade.",
	}, []string{"reason"})

	MembersReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poker_members_replaced_total",
		Help: "Joins that displaced an existing connection for the same name.",
	})

	// FeedEvents is labelled by result: published, dropped, error.
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poker_feed_events_total",
		Help: "Room activity events handled by the redis feed.",
	}, []string{"result"})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
