package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/availability"
	"github.com/caremesh/scheduling/internal/booking"
	"github.com/caremesh/scheduling/internal/schedule"
)

type RouterConfig struct {
	Bookings   *booking.Service
	Assigner   *booking.AutoAssigner
	Calculator *availability.Calculator
	Schedules  *schedule.Service
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	Logger     *zap.Logger
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment negotiation
	r.Post("/appointments", createAppointmentHandler(cfg.Bookings))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Bookings))
	r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Bookings))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Bookings))
	r.Post("/appointments/{id}/validate", validateAppointmentHandler(cfg.Bookings))
	r.Post("/appointments/{id}/propose", proposeSlotHandler(cfg.Bookings))
	r.Post("/appointments/{id}/accept", proposalResponseHandler(cfg.Bookings, true))
	r.Post("/appointments/{id}/refuse", proposalResponseHandler(cfg.Bookings, false))
	r.Post("/appointments/{id}/status", setStatusHandler(cfg.Bookings))

	// Availability and auto-assignment
	r.Get("/practitioners/{id}/slots", computeSlotsHandler(cfg.Calculator))
	r.Post("/practitioners/{id}/auto-assign", autoAssignHandler(cfg.Assigner))

	// Schedule management
	r.Get("/schedule/templates", listTemplatesHandler(cfg.Schedules))
	r.Post("/schedule/templates", createTemplateHandler(cfg.Schedules))
	r.Put("/schedule/templates/{id}", updateTemplateHandler(cfg.Schedules))
	r.Delete("/schedule/templates/{id}", deactivateTemplateHandler(cfg.Schedules))
	r.Get("/schedule/absences", listAbsencesHandler(cfg.Schedules))
	r.Post("/schedule/absences", createAbsenceHandler(cfg.Schedules))
	r.Delete("/schedule/absences/{id}", deleteAbsenceHandler(cfg.Schedules))

	return r
}
