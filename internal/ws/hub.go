package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"nhooyr.io/websocket"

	"github.com/piotrnowy/planning-poker/internal/room"
	"github.com/piotrnowy/planning-poker/pkg/metrics"
)

type Hub struct {
	log   *slog.Logger
	rooms *room.Registry
	opts  Options

	mu    sync.Mutex
	conns map[*Conn]struct{} // live connections, for shutdown
}

// NewHub sets up the hub over a room registry
func NewHub(logger *slog.Logger, rooms *room.Registry, opts Options) *Hub {
	return &Hub{
		log:   logger,
		rooms: rooms,
		opts:  opts.withDefaults(),
		conns: map[*Conn]struct{}{},
	}
}

// Rooms exposes the registry the hub attaches connections to.
func (h *Hub) Rooms() *room.Registry { return h.rooms }

// ServeWS handles a /ws?roomId=..&user=.. connection from upgrade to leave.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	roomID, user := q.Get("roomId"), q.Get("user")
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(user) == "" {
		metrics.ConnectionsRejected.WithLabelValues("missing_params").Inc()
		http.Error(w, "roomId and user required", http.StatusBadRequest)
		return
	}

	conn, err := Accept(w, r, h.opts)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}

	c := NewConn(conn, h.opts, h.log.With("room", roomID, "user", user))
	h.track(c)
	defer h.untrack(c)

	// Outbound writer
	go c.WriteLoop(ctx)

	rm := h.rooms.Join(roomID, user, c)

	// Inbound reader; every accepted action is broadcast by the room
	for {
		payload, ok := c.Read(ctx)
		if !ok {
			break
		}

		act, err := room.ParseAction(payload)
		if err != nil {
			metrics.MessagesDropped.WithLabelValues(dropReason(err)).Inc()
			c.log.Debug("message.dropped", "err", err)
			continue
		}
		if !rm.Apply(user, c, act) {
			metrics.MessagesDropped.WithLabelValues("not_member").Inc()
			c.log.Debug("message.dropped", "type", act.Type, "err", "not a member")
		}
	}

	rm.Leave(user, c)
	c.closeWith(websocket.StatusNormalClosure, "bye")
}

// Shutdown closes every live connection with "going away". Their handlers
// then run the normal leave path.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.StatusGoingAway, "server shutting down")
	}
	h.log.Info("hub.shutdown", "conns", len(conns))
}

// ConnCount reports live websocket connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) track(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, room.ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, room.ErrMissingField):
		return "missing_field"
	default:
		return "malformed"
	}
}
