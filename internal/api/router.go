package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/token-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Slot and token lookups
	r.Get("/doctors/{doctorID}/slots", listSlotsHandler(cfg.Service))
	r.Get("/doctors/{doctorID}/slots/available", listAvailableSlotsHandler(cfg.Service))
	r.Get("/doctors/{doctorID}/token", tokenForHandler(cfg.Service))

	// Appointment lifecycle
	r.Post("/appointments", bookHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/confirm", transitionHandler(cfg.Service.Confirm))
	r.Post("/appointments/{id}/cancel", transitionHandler(cfg.Service.Cancel))
	r.Post("/appointments/{id}/start", transitionHandler(cfg.Service.Start))
	r.Post("/appointments/{id}/complete", transitionHandler(cfg.Service.Complete))
	r.Post("/appointments/{id}/no-show", transitionHandler(cfg.Service.MarkNoShow))
	r.Post("/appointments/{id}/override-duration", overrideDurationHandler(cfg.Service))

	return r
}
