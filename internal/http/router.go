package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/piotrnowy/planning-poker/internal/app"
	"github.com/piotrnowy/planning-poker/internal/ws"
	"github.com/piotrnowy/planning-poker/pkg/metrics"
)

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub) http.Handler {
	mw := NewMiddleware(cfg)
	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	mux.Handle("GET /readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]int{"rooms": hub.Rooms().Len(), "conns": hub.ConnCount()})
	}))
	mux.Handle("GET /metrics", metrics.Handler())

	// WebSocket endpoint
	mux.Handle("GET /ws", mw.Limit(http.HandlerFunc(hub.ServeWS)))

	// Page + assets for the browser client; never touches room state
	if cfg.StaticDir != "" {
		logger.Info("static.enabled", "dir", cfg.StaticDir)
		index := filepath.Join(cfg.StaticDir, "index.html")
		mux.Handle("GET /{$}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, index)
		}))
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))
	}

	return mw.Wrap(mux) // CORS applied globally
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
