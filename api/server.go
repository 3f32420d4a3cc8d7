/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recovery:   Panic recovery (500 instead of crash), logged with stack
  3. Logger:     One zerolog line per request, plus request metrics
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/patients/*       Registration, ledger, timeline, payments
  /api/records          Raw record ingestion
  /api/outstanding      Outstanding dues report
  /api/diagnostics      Unmatched/ambiguous/duplicate records
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Logger and Recovery
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/patient-ledger/metrics"
)

// NewRouter creates a new router with all routes configured. m may be nil.
func NewRouter(h *Handler, m *metrics.Collector, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(Recovery(h.Logger))
	r.Use(RequestLogger(h.Logger, m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", m.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Patient routes
		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.ListPatients)
			r.Post("/", h.CreatePatient)
			r.Get("/{id}", h.GetPatient)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/timeline", h.GetTimeline)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		// Raw record ingestion
		r.Post("/records", h.CreateRecord)

		// Reports
		r.Get("/outstanding", h.ListOutstanding)
		r.Get("/diagnostics", h.GetDiagnostics)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
