package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /tasks", h.SubmitTask)
	mux.HandleFunc("GET /tasks/{taskId}", h.GetTask)
	mux.HandleFunc("GET /tasks/{taskId}/download", h.DownloadBundle)
	mux.HandleFunc("DELETE /tasks/{taskId}", h.DeleteTask)
	mux.HandleFunc("GET /downloads/{taskId}/{filename}", h.DownloadArtifact)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger, "/health", "/metrics"),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
