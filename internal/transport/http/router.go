package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

type RouterConfig struct {
	Scheduling   schedulingService
	Availability availabilityService
	DB           *bun.DB
	Redis        *redis.Client
	Log          *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "http"))

	h := &handlers{
		scheduling:   cfg.Scheduling,
		availability: cfg.Availability,
		log:          log,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))

	r.Get("/health/live", livenessHandler())
	r.Get("/health/ready", readinessHandler(cfg.DB, cfg.Redis))

	r.Route("/doctors", func(r chi.Router) {
		r.Post("/", h.registerDoctor)
		r.Get("/", h.listDoctors)
		r.Get("/{id}", h.getDoctor)
		r.Get("/{id}/availability", h.getAvailability)
		r.Put("/{id}/availability", h.replaceAvailability)
		r.Get("/{id}/slots", h.listSlots)
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.reserve)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Post("/{id}/reschedule", h.reschedule)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/complete", h.complete)
		r.Post("/{id}/no-show", h.noShow)
	})

	return r
}

func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readinessHandler(db *bun.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				checks["postgres"] = err.Error()
				healthy = false
			} else {
				checks["postgres"] = "ok"
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, checks)
	}
}
