package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Service  Scheduler
	Health   *HealthHandler
	Location *time.Location
	Logger   *logrus.Logger
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &handlers{
		svc:      cfg.Service,
		validate: newValidator(),
		loc:      loc,
		logger:   logger,
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Doctor calendar endpoints
	r.Route("/doctors/{id}", func(r chi.Router) {
		r.Get("/slots", h.getSlots)
		r.Get("/availability", h.getAvailability)
		r.Put("/availability", h.putAvailability)
		r.Get("/appointments", h.listDoctorAppointments)
		r.Get("/stats", h.doctorStats)
	})

	r.Get("/patients/{id}/appointments", h.listPatientAppointments)

	// Appointment endpoints
	r.Post("/appointments", h.createAppointment)
	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", h.getAppointment)
		r.Post("/transitions", h.transitionAppointment)
		r.Post("/cancel", h.cancelAppointment)
		r.Put("/documents", h.putDocuments)
	})

	return r
}
