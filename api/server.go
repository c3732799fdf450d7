/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from X-Forwarded-For / X-Real-IP
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the back-office frontend
  6. WithActor:  Operator + IP on the context for audit entries

ROUTE GROUPS:
  /api/recompute/*      Recompute runner
  /api/contracts/*      Per-contract status and schedule
  /api/companies/*      Calendar, arrears, work queue
  /api/admin/*          Maintenance jobs
  /healthz, /metrics    Operations

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. metrics may be
// nil, in which case /metrics is not served.
func NewRouter(h *Handler, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(WithActor)

		r.Route("/recompute", func(r chi.Router) {
			r.Post("/", h.TriggerRecompute)
			r.Get("/runs", h.ListRecomputeRuns)
		})

		r.Route("/contracts/{id}", func(r chi.Router) {
			r.Post("/recompute", h.RecomputeContract)
			r.Get("/status", h.GetContractStatus)
			r.Get("/schedule", h.GetContractSchedule)
		})

		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Get("/holidays", h.ListHolidays)
			r.Post("/holidays/rest-days", h.MaterializeRestDays)
			r.Get("/arrears/{year}/{month}", h.GetArrear)
			r.Get("/work-queue.xlsx", h.DownloadWorkQueue)
			r.Post("/work-queue/export", h.ExportWorkQueue)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/cleanup", h.TriggerCleanup)
		})
	})

	return r
}
