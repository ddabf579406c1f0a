package room

import (
	"log/slog"
	"sync"

	"github.com/piotrnowy/planning-poker/pkg/metrics"
)

// Options tune every room the registry creates.
type Options struct {
	// MaskVotes sends "?" for other members' votes until the round is revealed.
	MaskVotes bool
	// Observer, if set, is told about room lifecycle changes.
	Observer Observer
}

// Registry maps room ids to live rooms. A room is present only while it has
// members; it is created by the first join and dropped by the last leave.
type Registry struct {
	log  *slog.Logger
	opts Options

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger, opts Options) *Registry {
	return &Registry{log: logger, opts: opts, rooms: map[string]*Room{}}
}

// GetOrCreate returns the room for id, registering an empty one if needed.
func (g *Registry) GetOrCreate(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	rm := g.rooms[id]
	if rm == nil {
		rm = newRoom(id, g)
		g.rooms[id] = rm
		metrics.RoomsActive.Inc()
		g.log.Info("room.created", "room", id)
		if g.opts.Observer != nil {
			g.opts.Observer.RoomCreated(id)
		}
	}
	return rm
}

// Get returns the live room for id.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[id]
	return rm, ok
}

// Remove deletes the entry for id. The caller must know the room is empty.
// Removing an unknown id is a no-op.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	rm := g.rooms[id]
	if rm != nil {
		g.dropLocked(rm)
	}
	g.mu.Unlock()

	if rm == nil {
		return
	}
	rm.mu.Lock()
	rm.closed = true
	if n := len(rm.members); n > 0 {
		rm.log.Warn("room.removed_with_members", "members", n)
	}
	rm.mu.Unlock()
}

// Len reports how many rooms are live.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Join attaches m to room id under name, creating the room if absent, and
// returns the room it landed in. If the room is destroyed between lookup and
// join, a fresh one is created.
func (g *Registry) Join(id, name string, m Member) *Room {
	for {
		rm := g.GetOrCreate(id)
		if rm.join(name, m) {
			return rm
		}
	}
}

// release is called by a room, under its own lock, once it is empty.
func (g *Registry) release(rm *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[rm.id] == rm {
		g.dropLocked(rm)
	}
}

func (g *Registry) dropLocked(rm *Room) {
	delete(g.rooms, rm.id)
	metrics.RoomsActive.Dec()
	g.log.Info("room.destroyed", "room", rm.id)
	if g.opts.Observer != nil {
		g.opts.Observer.RoomDestroyed(rm.id)
	}
}
