package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/piotrnowy/planning-poker/internal/app"
	feed "github.com/piotrnowy/planning-poker/internal/feed"
	httpx "github.com/piotrnowy/planning-poker/internal/http"
	room "github.com/piotrnowy/planning-poker/internal/room"
	ws "github.com/piotrnowy/planning-poker/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.Env, cfg.LogLevel)
	logger.Info("config", "cfg", cfg.String())

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := room.Options{MaskVotes: cfg.MaskVotes}

	// Optional redis activity feed
	if cfg.RedisAddr != "" {
		f, err := feed.NewRedisFeed(ctx, cfg, logger)
		if err != nil {
			logger.Error("redis connect", "err", err)
			os.Exit(1)
		}
		defer f.Close()
		go f.Run(ctx)
		opts.Observer = f
		logger.Info("feed.enabled", "addr", cfg.RedisAddr, "prefix", cfg.FeedPrefix)
	}

	// Rooms + WebSocket hub
	rooms := room.NewRegistry(logger, opts)
	hub := ws.NewHub(logger, rooms, ws.Options{
		OriginPatterns: ws.OriginPatterns(cfg.CORSAllow),
		SendBuffer:     cfg.WSSendBuffer,
		PingInterval:   cfg.WSPingInterval,
		WriteTimeout:   cfg.WSWriteTimeout,
		ReadLimit:      cfg.WSReadLimit,
	})

	// HTTP + WS router
	router := httpx.NewRouter(cfg, logger, hub)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("server.shutdown.start")

	// shutdown; hijacked websockets are not tracked by http.Server
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	hub.Shutdown()

	logger.Info("server.shutdown.complete", "rooms", rooms.Len())
	_ = os.Stdout.Sync()
}
