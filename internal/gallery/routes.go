package gallery

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kratadata/quartier-atlas/internal/middleware"
)

// RouteOptions configures access control on the API.
type RouteOptions struct {
	AdminPasswordHash string
	GeneratePerMinute float64
	GenerateBurst     int
}

// SetupRoutes mounts the API; the caller adds it under /api.
func SetupRoutes(h *Handlers, opts RouteOptions) http.Handler {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/positions", h.GetPositions)
	r.Get("/districts", h.ListDistricts)
	r.Get("/districts/resolve", h.ResolveDistrict)

	r.With(middleware.RateLimit(opts.GeneratePerMinute, opts.GenerateBurst)).Post("/generate", h.Generate)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Admin(opts.AdminPasswordHash))
		r.Post("/positions", h.SavePositions)
		r.Post("/delete-image", h.DeleteImage)
	})

	return r
}
