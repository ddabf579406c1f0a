// Command roomwatch tails the room activity feed published by the server
// and logs every event. It reads the same env config as the server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	app "github.com/piotrnowy/planning-poker/internal/app"
	feed "github.com/piotrnowy/planning-poker/internal/feed"
)

func main() {
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	only := flag.String("room", "", "only log events for this room id")
	addr := flag.String("redis", cfg.RedisAddr, "redis host:port")
	flag.Parse()
	cfg.RedisAddr = *addr

	logger := app.NewLogger(cfg.Env, cfg.LogLevel)
	if cfg.RedisAddr == "" {
		logger.Error("roomwatch needs REDIS_ADDR or -redis")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	f, err := feed.NewRedisFeed(ctx, cfg, logger)
	if err != nil {
		logger.Error("redis connect", "err", err)
		os.Exit(1)
	}
	defer f.Close()

	logger.Info("roomwatch.subscribed", "pattern", f.Channel("*"))
	err = f.Subscribe(ctx, func(e feed.Event) {
		if *only != "" && e.RoomID != *only {
			return
		}
		attrs := []any{"room", e.RoomID, "kind", e.Kind, "at", e.At}
		if e.State != nil {
			attrs = append(attrs, "votes", e.State.Votes, "revealed", e.State.Revealed)
		}
		logger.Info("room.event", attrs...)
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("subscribe", "err", err)
		os.Exit(1)
	}
}
