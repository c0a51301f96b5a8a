package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/appointment"
	"github.com/hackgods/consult-scheduling/internal/availability"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/payout"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Planner      *availability.Planner
	Credits      *ledger.Service
	Payouts      *payout.Processor
	Resolver     identity.Resolver
	Logger       *zap.Logger
	Checks       []Check
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		appointments: cfg.Appointments,
		planner:      cfg.Planner,
		credits:      cfg.Credits,
		payouts:      cfg.Payouts,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Resolver, logger))

		r.Post("/availability", h.declareAvailability)
		r.Get("/doctors/{id}/availability", h.doctorAvailability)
		r.Get("/doctors/{id}/slots", h.doctorSlots)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.createAppointment)
			r.Get("/", h.listAppointments)
			r.Get("/{id}", h.getAppointment)
			r.Get("/{id}/events", h.appointmentEvents)
			r.Post("/{id}/cancel", h.transitionHandler(cancelAppointment))
			r.Post("/{id}/complete", h.transitionHandler(completeAppointment))
			r.Put("/{id}/notes", h.attachNotes)
			r.Post("/{id}/video-token", h.videoToken)
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/balance", h.balance)
			r.Get("/transactions", h.transactions)
			r.Post("/allocations", h.allocate)
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Post("/", h.requestPayout)
			r.Get("/", h.listPayouts)
			r.Post("/{id}/approve", h.approvePayout)
		})
	})

	return r
}
