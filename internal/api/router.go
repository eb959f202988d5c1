package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/interviewd/internal/middleware"
)

// RouterConfig carries the router's collaborators.
type RouterConfig struct {
	Engine         Engine
	Sockets        *Sockets
	Limiter        *RateLimiter // nil disables rate limiting
	Health         map[string]Pinger
	AllowedOrigins []string
	IsDevelopment  bool
	Logger         *slog.Logger
}

// NewRouter builds the HTTP handler for the interview service.
func NewRouter(cfg RouterConfig) http.Handler {
	base := NewHandler(cfg.Engine, cfg.Sockets, cfg.Logger)
	sessions := NewSessionHandler(base)
	sockets := NewSocketHandler(base, cfg.AllowedOrigins, cfg.IsDevelopment)
	health := NewHealthHandler(cfg.Health)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	health.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
		sessions.RegisterRoutes(r)
		r.Get("/ws/session/{id}", sockets.ServeHTTP)
	})

	return r
}
