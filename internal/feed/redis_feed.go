package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/piotrnowy/planning-poker/internal/app"
	"github.com/piotrnowy/planning-poker/internal/room"
	"github.com/piotrnowy/planning-poker/pkg/metrics"
)

// Event kinds.
const (
	KindCreated   = "created"
	KindState     = "state"
	KindDestroyed = "destroyed"
)

// Event is one room lifecycle change as published on redis.
type Event struct {
	RoomID string      `json:"roomId"`
	Kind   string      `json:"kind"`
	State  *room.State `json:"state,omitempty"`
	At     time.Time   `json:"at"`
}

// RedisFeed publishes room activity to redis pub/sub for outside observers.
// It implements room.Observer; the observer calls only enqueue, Run does the I/O.
type RedisFeed struct {
	rdb    *redis.Client
	log    *slog.Logger
	prefix string
	q      chan Event
	now    func() time.Time
}

// NewRedisFeed connects to redis and verifies connectivity
func NewRedisFeed(ctx context.Context, cfg app.Config, log *slog.Logger) (*RedisFeed, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return New(rdb, cfg.FeedPrefix, cfg.FeedBuffer, log), nil
}

// New wraps an existing client. buffer bounds the events waiting for Run.
func New(rdb *redis.Client, prefix string, buffer int, log *slog.Logger) *RedisFeed {
	if buffer <= 0 {
		buffer = 256
	}
	if prefix == "" {
		prefix = "poker"
	}
	return &RedisFeed{
		rdb:    rdb,
		log:    log,
		prefix: prefix,
		q:      make(chan Event, buffer),
		now:    time.Now,
	}
}

func (f *RedisFeed) RoomCreated(id string) {
	f.enqueue(Event{RoomID: id, Kind: KindCreated})
}

func (f *RedisFeed) RoomChanged(id string, s room.State) {
	f.enqueue(Event{RoomID: id, Kind: KindState, State: &s})
}

func (f *RedisFeed) RoomDestroyed(id string) {
	f.enqueue(Event{RoomID: id, Kind: KindDestroyed})
}

// enqueue adds to the publish queue without blocking if full
func (f *RedisFeed) enqueue(e Event) {
	e.At = f.now()
	select {
	case f.q <- e:
	default:
		metrics.FeedEvents.WithLabelValues("dropped").Inc()
		f.log.Warn("feed.dropped", "room", e.RoomID, "kind", e.Kind)
	}
}

// Run publishes queued events until ctx is cancelled.
func (f *RedisFeed) Run(ctx context.Context) {
	for {
		select {
		case e := <-f.q:
			if err := f.Publish(ctx, e); err != nil {
				metrics.FeedEvents.WithLabelValues("error").Inc()
				f.log.Error("feed.publish", "room", e.RoomID, "err", err)
				continue
			}
			metrics.FeedEvents.WithLabelValues("published").Inc()
		case <-ctx.Done():
			return
		}
	}
}

// Publish sends one event to the room's channel
func (f *RedisFeed) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.Channel(e.RoomID), raw).Err()
}

// Subscribe listens to all room channels and invokes fn for each event
func (f *RedisFeed) Subscribe(ctx context.Context, fn func(Event)) error {
	pubsub := f.rdb.PSubscribe(ctx, f.Channel("*"))
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil || e.RoomID == "" {
				f.log.Debug("feed.skip", "channel", msg.Channel, "err", err)
				continue
			}
			fn(e)
		}
	}
}

// Close shuts down the redis connection
func (f *RedisFeed) Close() { _ = f.rdb.Close() }

// Channel namespacing for room pub/sub
func (f *RedisFeed) Channel(roomID string) string {
	return strings.Join([]string{f.prefix, "room", roomID}, ":")
}
