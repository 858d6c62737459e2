package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"pggatekeeper/internal/middleware"
)

// RouterConfig carries the HTTP-surface knobs from configuration.
type RouterConfig struct {
	OperatorHeader     string
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

// NewRouter assembles the chi router: health is unauthenticated, everything
// under /v1 requires the operator identity header.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type", cfg.OperatorHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.RateLimitRPS > 0 {
		r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}))
	}

	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Operator(cfg.OperatorHeader))

		r.Post("/users", h.CreateUser)
		r.Get("/users", h.ListUsers)
		r.Get("/users/{username}", h.GetUser)
		r.Patch("/users/{username}", h.UpdateUser)
		r.Delete("/users/{username}", h.RevokeUser)
		r.Get("/users/{username}/grants", h.ListGrants)

		r.Post("/grants", h.RequestAccess)
		r.Delete("/grants/{id}", h.RevokeGrant)

		r.Post("/credentials/{ref}/decrypt", h.DecryptPassword)

		r.Get("/audit", h.ListAudit)
	})

	return r
}
