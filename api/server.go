/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logger, also placed in the request context
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request count and latency by route pattern (optional)
  5. CORS:       Cross-origin requests

ROUTE GROUPS:
  /products/*     Product catalog
  /sales/*        Sales (through the coordinator)
  /admin/audit    Drift audit
  /healthz        Liveness
  /metrics        Prometheus exposition (when enabled)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
	"github.com/warp/inventory-engine/logger"
	"github.com/warp/inventory-engine/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// CORSAllowOrigins defaults to any origin.
	CORSAllowOrigins []string

	// Metrics, when set, instruments every request and is served at
	// MetricsPath.
	Metrics     *metrics.Prometheus
	MetricsPath string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSAllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(h.Logger))
	r.Use(logger.Recoverer(h.Logger))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	// Product routes
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Post("/", h.CreateProduct)
		r.Get("/{id}", h.GetProduct)
		r.Put("/{id}", h.UpdateProduct)
		r.Delete("/{id}", h.DeleteProduct)
	})

	// Sale routes
	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.ListSales)
		r.Post("/", h.CreateSale)
		r.Get("/{id}", h.GetSale)
		r.Put("/{id}", h.UpdateSale)
		r.Delete("/{id}", h.DeleteSale)
	})

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Get("/audit", h.Audit)
	})

	r.Get("/healthz", h.Health)

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Err: ErrorBody{Code: codeNotFound, Message: "Route not found"}})
	})

	return r
}
