package room_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piotrnowy/planning-poker/internal/room"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type frame struct {
	Type     string            `json:"type"`
	Votes    map[string]string `json:"votes"`
	Revealed bool              `json:"revealed"`
}

// fakeMember records every frame it is sent.
type fakeMember struct {
	mu     sync.Mutex
	frames []frame
	fail   bool
	closed room.CloseReason
}

func (f *fakeMember) Send(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	var fr frame
	if err := json.Unmarshal(b, &fr); err != nil {
		panic(err)
	}
	f.frames = append(f.frames, fr)
	return true
}

func (f *fakeMember) Close(reason room.CloseReason) {
	f.mu.Lock()
	f.closed = reason
	f.mu.Unlock()
}

func (f *fakeMember) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeMember) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeMember) last(t *testing.T) frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames, "no frames received")
	return f.frames[len(f.frames)-1]
}

func (f *fakeMember) closeReason() room.CloseReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func assertFrame(t *testing.T, m *fakeMember, votes map[string]string, revealed bool) {
	t.Helper()
	fr := m.last(t)
	assert.Equal(t, "state", fr.Type)
	assert.Equal(t, votes, fr.Votes)
	assert.Equal(t, revealed, fr.Revealed)
}

// assertSubset checks that every vote belongs to a registered member.
func assertSubset(t *testing.T, rm *room.Room) {
	t.Helper()
	members := map[string]bool{}
	for _, n := range rm.Members() {
		members[n] = true
	}
	for name := range rm.Snapshot().Votes {
		assert.True(t, members[name], "vote for non-member %q", name)
	}
}

func TestRoom_Scenario(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{})
	alice, bob := &fakeMember{}, &fakeMember{}
	empty := map[string]string{}

	rm := reg.Join("R1", "Alice", alice)
	assertFrame(t, alice, empty, false)

	require.Same(t, rm, reg.Join("R1", "Bob", bob))
	assertFrame(t, alice, empty, false)
	assertFrame(t, bob, empty, false)

	require.True(t, rm.Vote("Alice", alice, "5"))
	assertFrame(t, alice, map[string]string{"Alice": "5"}, false)
	assertFrame(t, bob, map[string]string{"Alice": "5"}, false)

	require.True(t, rm.Vote("Bob", bob, "8"))
	both := map[string]string{"Alice": "5", "Bob": "8"}
	assertFrame(t, alice, both, false)
	assertFrame(t, bob, both, false)

	require.True(t, rm.Reveal("Bob", bob))
	assertFrame(t, alice, both, true)
	assertFrame(t, bob, both, true)

	require.True(t, rm.Vote("Alice", alice, "3"))
	changed := map[string]string{"Alice": "3", "Bob": "8"}
	assertFrame(t, alice, changed, false)
	assertFrame(t, bob, changed, false)

	bobFrames := bob.count()
	require.True(t, rm.Leave("Bob", bob))
	assertFrame(t, alice, map[string]string{"Alice": "3"}, false)
	assert.Equal(t, bobFrames, bob.count(), "departed member must not be sent state")
	assertSubset(t, rm)

	require.True(t, rm.Leave("Alice", alice))
	_, ok := reg.Get("R1")
	assert.False(t, ok)
	assert.True(t, rm.Closed())
}

func TestRoom_VoteLastValueWins(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{})
	a, b := &fakeMember{}, &fakeMember{}
	rm := reg.Join("r", "a", a)
	reg.Join("r", "b", b)

	require.True(t, rm.Vote("b", b, "2"))
	for _, v := range []string{"1", "3", "?", "13"} {
		require.True(t, rm.Vote("a", a, v))
	}

	assert.Equal(t, map[string]string{"a": "13", "b": "2"}, rm.Snapshot().Votes)
}

func TestRoom_VoteWhileRevealedHides(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{})
	a := &fakeMember{}
	rm := reg.Join("r", "a", a)

	rm.Vote("a", a, "5")
	rm.Reveal("a", a)
	require.True(t, rm.Snapshot().Revealed)

	rm.Vote("a", a, "8")
	assertFrame(t, a, map[string]string{"a": "8"}, false)
	assert.False(t, rm.Snapshot().Revealed)
}

func TestRoom_RevealIdempotent(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{})
	a := &fakeMember{}
	rm := reg.Join("r", "a", a)
	rm.Vote("a", a, "5")

	rm.Reveal("a", a)
	first := rm.Snapshot()
	rm.Reveal("a", a)

	assert.Equal(t, first, rm.Snapshot())
	assertFrame(t, a, map[string]string{"a": "5"}, true)
}

func TestRoom_Reset(t *testing.T) {
	tests := []struct {
		name  string
		setup func(rm *room.Room, a, b *fakeMember)
	}{
		{
			name:  "fresh room",
			setup: func(*room.Room, *fakeMember, *fakeMember) {},
		},
		{
			name: "hidden votes",
			setup: func(rm *room.Room, a, b *fakeMember) {
				rm.Vote("a", a, "1")
				rm.Vote("b", b, "2")
			},
		},
		{
			name: "revealed votes",
			setup: func(rm *room.Room, a, b *fakeMember) {
				rm.Vote("a", a, "1")
				rm.Reveal("b", b)
			},
		},
		{
			name: "revealed with no votes",
			setup: func(rm *room.Room, a, _ *fakeMember) {
				rm.Reveal("a", a)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := room.NewRegistry(testLogger(), room.Options{})
			a, b := &fakeMember{}, &fakeMember{}
			rm := reg.Join("r", "a", a)
			reg.Join("r", "b", b)
			tt.setup(rm, a, b)

			require.True(t, rm.Reset("b", b))

			s := rm.Snapshot()
			assert.Empty(t, s.Votes)
			assert.False(t, s.Revealed)
			assertFrame(t, a, map[string]string{}, false)
			assertFrame(t, b, map[string]string{}, false)
		})
	}
}

func TestRoom_Apply(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{})
	a := &fakeMember{}
	rm := reg.Join("r", "a", a)

	assert.True(t, rm.Apply("a", a, room.Action{Type: room.ActionVote, Value: "3"}))
	assert.True(t, rm.Apply("a", a, room.Action{Type: room.ActionReveal}))
	assert.Equal(t, room.State{Votes: map[string]string{"a": "3"}, Revealed: true}, rm.Snapshot())

	assert.True(t, rm.Apply("a", a, room.Action{Type: room.ActionReset}))
	assert.False(t, rm.Apply("a", a, room.Action{Type: "bogus"}))
	assert.Empty(t, rm.Snapshot().Votes)
}

func TestRoom_ActionsFromNonMembersIgnored(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{})
	a, stranger := &fakeMember{}, &fakeMember{}
	rm := reg.Join("r", "a", a)
	before := a.count()

	assert.False(t, rm.Vote("mallory", stranger, "1"))
	assert.False(t, rm.Vote("a", stranger, "1"), "name held by another connection")
	assert.False(t, rm.Reveal("mallory", stranger))
	assert.False(t, rm.Reset("mallory", stranger))
	assert.False(t, rm.Leave("a", stranger))

	assert.Equal(t, before, a.count())
	assert.Equal(t, []string{"a"}, rm.Members())
}

func TestRoom_RejoinReplacesConnection(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{})
	old, fresh, other := &fakeMember{}, &fakeMember{}, &fakeMember{}
	rm := reg.Join("r", "alice", old)
	reg.Join("r", "bob", other)
	rm.Vote("alice", old, "5")

	require.Same(t, rm, reg.Join("r", "alice", fresh))

	assert.Equal(t, room.ReasonReplaced, old.closeReason())
	assert.Equal(t, []string{"alice", "bob"}, rm.Members())
	assertFrame(t, fresh, map[string]string{"alice": "5"}, false)

	t.Run("displaced connection cannot act", func(t *testing.T) {
		assert.False(t, rm.Vote("alice", old, "13"))
		assert.False(t, rm.Reset("alice", old))
		assert.Equal(t, "5", rm.Snapshot().Votes["alice"])
	})

	t.Run("displaced connection leaving keeps the new holder", func(t *testing.T) {
		assert.False(t, rm.Leave("alice", old))
		assert.Equal(t, []string{"alice", "bob"}, rm.Members())
		assert.Equal(t, "5", rm.Snapshot().Votes["alice"])
	})

	t.Run("new holder acts normally", func(t *testing.T) {
		assert.True(t, rm.Vote("alice", fresh, "8"))
		assertFrame(t, other, map[string]string{"alice": "8"}, false)
	})
}

func TestRoom_SameConnectionJoiningTwice(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{})
	a := &fakeMember{}
	rm := reg.Join("r", "a", a)
	reg.Join("r", "a", a)

	assert.Zero(t, a.closeReason())
	assert.Equal(t, []string{"a"}, rm.Members())
	assert.Equal(t, 2, a.count())
}

func TestRoom_WriteFailureLeaves(t *testing.T) {
	t.Run("failed peer removed with its vote", func(t *testing.T) {
		reg := room.NewRegistry(testLogger(), room.Options{})
		alice, bob := &fakeMember{}, &fakeMember{}
		rm := reg.Join("r", "alice", alice)
		reg.Join("r", "bob", bob)
		rm.Vote("bob", bob, "8")

		bob.setFail(true)
		require.True(t, rm.Vote("alice", alice, "5"))

		assert.Equal(t, room.ReasonWriteFailed, bob.closeReason())
		assert.Equal(t, []string{"alice"}, rm.Members())
		assertFrame(t, alice, map[string]string{"alice": "5"}, false)
		assertSubset(t, rm)
	})

	t.Run("every peer failing destroys the room", func(t *testing.T) {
		reg := room.NewRegistry(testLogger(), room.Options{})
		a := &fakeMember{}
		rm := reg.Join("r", "a", a)

		a.setFail(true)
		rm.Reveal("a", a)

		assert.True(t, rm.Closed())
		assert.Zero(t, reg.Len())
		assert.False(t, rm.Vote("a", a, "1"), "closed room is a no-op")
	})

	t.Run("joiner that cannot be written to never stays", func(t *testing.T) {
		reg := room.NewRegistry(testLogger(), room.Options{})
		alice, dead := &fakeMember{}, &fakeMember{fail: true}
		rm := reg.Join("r", "alice", alice)
		reg.Join("r", "ghost", dead)

		assert.Equal(t, []string{"alice"}, rm.Members())
		assert.Equal(t, room.ReasonWriteFailed, dead.closeReason())
	})
}

func TestRoom_MaskVotes(t *testing.T) {
	reg := room.NewRegistry(testLogger(), room.Options{MaskVotes: true})
	alice, bob, carol := &fakeMember{}, &fakeMember{}, &fakeMember{}
	rm := reg.Join("r", "alice", alice)
	reg.Join("r", "bob", bob)
	reg.Join("r", "carol", carol)

	rm.Vote("alice", alice, "5")
	rm.Vote("bob", bob, "8")

	assertFrame(t, alice, map[string]string{"alice": "5", "bob": "?"}, false)
	assertFrame(t, bob, map[string]string{"alice": "?", "bob": "8"}, false)
	assertFrame(t, carol, map[string]string{"alice": "?", "bob": "?"}, false)
	assert.Equal(t, map[string]string{"alice": "5", "bob": "8"}, rm.Snapshot().Votes, "server keeps true values")

	rm.Reveal("carol", carol)
	revealed := map[string]string{"alice": "5", "bob": "8"}
	assertFrame(t, alice, revealed, true)
	assertFrame(t, bob, revealed, true)
	assertFrame(t, carol, revealed, true)

	rm.Vote("bob", bob, "3")
	assertFrame(t, alice, map[string]string{"alice": "5", "bob": "?"}, false)
}
