package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/capsule-memory/capsule/internal/api/handlers"
	"github.com/capsule-memory/capsule/internal/api/middleware"
	"github.com/capsule-memory/capsule/internal/config"
)

// NewRouter builds the Capsule Memory HTTP surface: the /v1/memories*
// resource routes plus /healthz and /readyz, wrapped in the same
// middleware stack the router this one replaces used — request ID,
// real IP, panic recovery, compression, structured logging, tenancy
// extraction, telemetry, then API key auth when configured.
func NewRouter(cfg *config.Config, h *handlers.Handlers, auth *middleware.APIKeyAuth) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Telemetry)

	if auth != nil && auth.Enabled() {
		r.Use(auth.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseCORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Capsule-Org", "X-Capsule-Project", "X-Capsule-Subject", "X-Capsule-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1/memories", func(r chi.Router) {
		r.Post("/", h.CreateMemory)
		r.Get("/", h.ListMemories)
		r.Post("/search", h.SearchMemories)

		r.Route("/{id}", func(r chi.Router) {
			r.Patch("/", h.UpdateMemory)
			r.Delete("/", h.DeleteMemory)
		})

		r.Route("/recipes", func(r chi.Router) {
			r.Get("/", h.ListRecipes)
			r.Post("/preview", h.PreviewRecipe)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/preview", h.PreviewPolicy)
		})

		r.Route("/capture", func(r chi.Router) {
			r.Get("/", h.ListCapture)
			r.Post("/", h.SubmitCapture)
			r.Post("/{id}/approve", h.ApproveCapture)
			r.Post("/{id}/reject", h.RejectCapture)
		})
	})

	r.Get("/version", versionHandler(cfg))

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard (open access, no credentials).
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("CAPSULE_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "capsule-memory",
		})
	}
}
