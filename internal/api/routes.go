package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"in-house-gis/internal/db"
)

// NewRouter creates and configures the Chi router
func NewRouter(database *db.DB) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(Logger)
	r.Use(CORS)

	// Create handlers
	h := NewHandlers(database)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/parcels", h.ListParcels)
		r.Get("/parcels/{apn}", h.GetParcel)
		r.Get("/stats", h.GetStats)
		r.Get("/sources", h.ListSources)
		r.Get("/sync-runs", h.ListSyncRuns)
	})

	r.Get("/health", h.Health)

	return r
}
