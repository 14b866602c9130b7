package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
)

type RouterConfig struct {
	Service *appointment.Service
	Tokens  *auth.TokenManager
	Logger  *zap.Logger
	Checks  []DependencyCheck
	Env     string
	Version string
	// Booking mutations are rate limited per client IP.
	RateLimit rate.Limit
	RateBurst int
}

type Handler struct {
	svc      *appointment.Service
	logger   *zap.Logger
	validate *validator.Validate
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := &Handler{
		svc:      cfg.Service,
		logger:   cfg.Logger,
		validate: newValidator(),
	}
	limiter := NewIPRateLimiter(cfg.RateLimit, cfg.RateBurst)

	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecovererMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Public schedule reads
	r.Get("/doctors/{doctorID}/availability", h.GetAvailability)
	r.Get("/doctors/{doctorID}/schedule", h.GetWeeklySchedule)
	r.Get("/doctors/{doctorID}/overrides", h.ListOverrides)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens))

		// Schedule management
		r.Put("/doctors/{doctorID}/schedule", h.SetWeeklySchedule)
		r.Put("/doctors/{doctorID}/overrides/{date}", h.SetOverride)
		r.Delete("/doctors/{doctorID}/overrides/{date}", h.DeleteOverride)

		// Appointment endpoints
		r.Get("/appointments", h.ListAppointments)
		r.Get("/appointments/{id}", h.GetAppointment)
		r.Patch("/appointments/{id}/status", h.UpdateStatus)
		r.Post("/appointments/{id}/checkin", h.CheckIn)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/appointments", h.CreateAppointment)
			r.Put("/appointments/{id}/reschedule", h.RescheduleAppointment)
			r.Delete("/appointments/{id}", h.CancelAppointment)
		})
	})

	return r
}
