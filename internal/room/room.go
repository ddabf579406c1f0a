package room

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/piotrnowy/planning-poker/pkg/metrics"
)

// CloseReason tells a Member why the room is letting go of it.
type CloseReason int

const (
	// ReasonReplaced: a newer connection joined under the same name.
	ReasonReplaced CloseReason = iota + 1
	// ReasonWriteFailed: the member could not accept a broadcast.
	ReasonWriteFailed
)

func (c CloseReason) String() string {
	switch c {
	case ReasonReplaced:
		return "replaced"
	case ReasonWriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}

// Member is a connection bound to a room-scoped name.
// Send and Close are called with the room lock held and must not block.
// A false return from Send is handled as a disconnect.
type Member interface {
	Send(msg []byte) bool
	Close(reason CloseReason)
}

// Observer receives room lifecycle events. Calls are made with room or
// registry locks held, in the order the changes were applied.
type Observer interface {
	RoomCreated(id string)
	RoomChanged(id string, s State)
	RoomDestroyed(id string)
}

// maskedVote replaces other members' votes while the round is hidden.
const maskedVote = "?"

// Room is one voting session. All state is guarded by mu, so every
// transition and the broadcast that follows it run as one step.
type Room struct {
	id   string
	reg  *Registry
	log  *slog.Logger
	mask bool
	obs  Observer

	mu       sync.Mutex
	members  map[string]Member
	votes    map[string]string
	revealed bool
	closed   bool
}

func newRoom(id string, reg *Registry) *Room {
	return &Room{
		id:      id,
		reg:     reg,
		log:     reg.log.With("room", id),
		mask:    reg.opts.MaskVotes,
		obs:     reg.opts.Observer,
		members: map[string]Member{},
		votes:   map[string]string{},
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// join registers m under name, displacing any previous connection for that
// name, and broadcasts the resulting state. It reports false if the room was
// destroyed before the join could land.
func (r *Room) join(name string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	old, had := r.members[name]
	r.members[name] = m
	switch {
	case !had:
		metrics.MembersConnected.Inc()
		r.log.Info("member.joined", "user", name, "members", len(r.members))
	case old != m:
		metrics.MembersReplaced.Inc()
		r.log.Info("member.replaced", "user", name)
		old.Close(ReasonReplaced)
	}

	r.broadcastLocked()
	return true
}

// Apply runs a decoded client action for the member registered as name.
// Actions from a connection that no longer holds the name are ignored.
func (r *Room) Apply(name string, m Member, a Action) bool {
	switch a.Type {
	case ActionVote:
		return r.Vote(name, m, a.Value)
	case ActionReveal:
		return r.Reveal(name, m)
	case ActionReset:
		return r.Reset(name, m)
	default:
		return false
	}
}

// Vote records value for name. A vote after reveal hides the round again.
func (r *Room) Vote(name string, m Member, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.activeLocked(name, m) {
		return false
	}
	r.votes[name] = value
	r.revealed = false
	r.broadcastLocked()
	return true
}

// Reveal shows all votes.
func (r *Room) Reveal(name string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.activeLocked(name, m) {
		return false
	}
	r.revealed = true
	r.broadcastLocked()
	return true
}

// Reset clears the round.
func (r *Room) Reset(name string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.activeLocked(name, m) {
		return false
	}
	r.votes = map[string]string{}
	r.revealed = false
	r.broadcastLocked()
	return true
}

// Leave drops name (and its vote) if m still holds it. The last member
// leaving destroys the room; otherwise the remaining members get the new state.
func (r *Room) Leave(name string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[name] != m {
		return false
	}
	r.removeLocked(name, "closed")
	if len(r.members) == 0 {
		r.destroyLocked()
		return true
	}
	r.broadcastLocked()
	return true
}

// Snapshot returns a copy of the unmasked room state.
func (r *Room) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Members returns the registered names, sorted.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.members))
	for n := range r.members {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Closed reports whether the room has been destroyed.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) activeLocked(name string, m Member) bool {
	if r.closed {
		return false
	}
	cur, ok := r.members[name]
	return ok && cur == m
}

func (r *Room) removeLocked(name, why string) {
	delete(r.members, name)
	delete(r.votes, name)
	metrics.MembersConnected.Dec()
	r.log.Info("member.left", "user", name, "reason", why, "members", len(r.members))
}

func (r *Room) destroyLocked() {
	r.closed = true
	r.reg.release(r)
}

func (r *Room) snapshotLocked() State {
	votes := make(map[string]string, len(r.votes))
	for k, v := range r.votes {
		votes[k] = v
	}
	return State{Votes: votes, Revealed: r.revealed}
}

// broadcastLocked sends the current snapshot to every member. Members whose
// queue rejects the frame are removed as if they had disconnected, and the
// survivors are sent the corrected state.
func (r *Room) broadcastLocked() {
	for len(r.members) > 0 {
		failed := r.fanoutLocked()
		if len(failed) == 0 {
			break
		}
		for _, name := range failed {
			m := r.members[name]
			r.removeLocked(name, ReasonWriteFailed.String())
			m.Close(ReasonWriteFailed)
		}
		if len(r.members) == 0 {
			r.destroyLocked()
			return
		}
	}

	if r.obs != nil {
		r.obs.RoomChanged(r.id, r.snapshotLocked())
	}
}

func (r *Room) fanoutLocked() []string {
	snap := r.snapshotLocked()

	var shared []byte
	if !r.mask || r.revealed {
		b, err := EncodeState(snap)
		if err != nil {
			r.log.Error("state.encode", "err", err)
			return nil
		}
		shared = b
	}

	var failed []string
	for name, m := range r.members {
		payload := shared
		if payload == nil {
			b, err := EncodeState(maskFor(snap, name))
			if err != nil {
				r.log.Error("state.encode", "err", err)
				continue
			}
			payload = b
		}
		if !m.Send(payload) {
			failed = append(failed, name)
		}
	}
	metrics.Broadcasts.Inc()
	return failed
}

// maskFor hides every vote except viewer's own.
func maskFor(s State, viewer string) State {
	votes := make(map[string]string, len(s.Votes))
	for name, v := range s.Votes {
		if name == viewer {
			votes[name] = v
		} else {
			votes[name] = maskedVote
		}
	}
	return State{Votes: votes, Revealed: s.Revealed}
}
