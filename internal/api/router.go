package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/careops/hospital-scheduling/internal/scheduling"
	"github.com/careops/hospital-scheduling/pkg/logging"
)

type RouterConfig struct {
	Gateway *scheduling.IntentGateway
	Ledger  *scheduling.Ledger
	Store   scheduling.Store
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *logging.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/assistant/intents", intentHandler(cfg.Gateway))

	r.Route("/pending-actions", func(r chi.Router) {
		r.Get("/{id}", getActionHandler(cfg.Ledger))
		r.Post("/{id}/confirm", confirmActionHandler(cfg.Ledger))
		r.Post("/{id}/reject", rejectActionHandler(cfg.Ledger))
	})

	r.Get("/bookings", listBookingsHandler(cfg.Store))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Store))
	r.Get("/patients", searchPatientsHandler(cfg.Store))

	return r
}
