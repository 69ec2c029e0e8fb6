// Package api builds the HTTP router for the orchestrator.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/voicepilot/voicepilot/internal/api/handlers"
	"github.com/voicepilot/voicepilot/internal/api/middleware"
	"github.com/voicepilot/voicepilot/internal/metrics"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewAPIKeyAuth().Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & metrics
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API v1
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", h.Chat)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/enqueue", h.EnqueueTask)
			r.Get("/{taskID}", h.GetTask)
		})

		r.Post("/approvals/{approvalID}/ok", h.ApproveStep)
	})

	// Internal debug surface (browser passthrough)
	r.Route("/internal/browser", func(r chi.Router) {
		r.Post("/proxy", h.BrowserProxy)
		r.Get("/screenshot", h.BrowserScreenshot)
	})

	return r
}
