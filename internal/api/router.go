package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/careloop/clinic-scheduling/internal/availability"
	"github.com/careloop/clinic-scheduling/internal/booking"
	"github.com/careloop/clinic-scheduling/internal/stats"
)

type RouterConfig struct {
	Availability *availability.Service
	Booking      *booking.Service
	Stats        *stats.Aggregator
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay outside tenant scoping.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	scheduling := NewSchedulingHandler(cfg.Availability, cfg.Booking, cfg.Stats, cfg.Logger)
	r.Route("/api/scheduling", func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Get("/", scheduling.Query)
		r.Post("/", scheduling.Command)
	})

	return r
}
