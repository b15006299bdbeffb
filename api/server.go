/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the storefront proxy
  3. Logger:     zap request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counter and latency
  6. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/admin/order/*    Delivery recording, correction, audit, payment
  /api/admin/orders/*   Order catalog
  /api/admin/reports/*  Daily delivery records
  /healthz              Store reachability
  /metrics              Prometheus scrape endpoint

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/eggstand/config"
)

// RouterOptions carries the optional pieces of the router.
type RouterOptions struct {
	CORS    config.CORSConfig
	Logger  *zap.Logger
	Metrics func(http.Handler) http.Handler
	// Scrape serves /metrics. Defaults to the global registry.
	Scrape http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORS.Origins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AdminHeader},
		AllowCredentials: opts.CORS.AllowCredentials,
	}))

	r.Get("/healthz", h.Healthz)

	scrape := opts.Scrape
	if scrape == nil {
		scrape = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", scrape)

	r.Route("/api/admin", func(r chi.Router) {
		// Delivery routes
		r.Route("/order", func(r chi.Router) {
			r.Post("/add_delivery", h.AddDelivery)
			r.Post("/correct_delivery", h.CorrectDelivery)
			r.Get("/delivery_audit/{orderId}", h.DeliveryAudit)
			r.Post("/update_payment", h.UpdatePayment)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{orderId}", h.GetOrder)
		})

		// Report routes
		r.Get("/reports/delivery-records", h.DeliveryRecords)
	})

	return r
}
