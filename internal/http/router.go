package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/himpar21/medisync/internal/domain"
	"github.com/himpar21/medisync/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	JWTSecret      []byte
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Ledger         Pinger
}

// NewRouter mounts the public API under /api/v1 behind bearer auth. /health and
// /metrics stay open.
func NewRouter(cfg RouterConfig, medicines *MedicinesHandler, carts *CartHandler, checkouts *CheckoutHandler, orders *OrdersHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ledger != nil {
			if err := cfg.Ledger.Ping(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Get("/medicines", medicines.ListMedicines)
		r.Get("/pickup-slots", checkouts.PickupSlots)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Delete("/", carts.ClearCart)
			r.Post("/items", carts.AddItem)
			r.Patch("/items/{medicineId}", carts.UpdateQuantity)
			r.Delete("/items/{medicineId}", carts.RemoveItem)
		})

		r.Post("/checkout", checkouts.Checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", orders.ListOrders)
			r.Get("/{orderId}", orders.GetOrder)
			r.With(RequireRole(domain.RoleAdmin, domain.RolePharmacist)).
				Patch("/{orderId}/status", orders.UpdateStatus)
		})
	})

	return otelhttp.NewHandler(r, "medisync-http")
}
