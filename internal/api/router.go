/**
 * @description
 * This file sets up the API router for the payment service. It uses the
 * chi router to define routes and attach middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The HTTP router.
 * - github.com/prometheus/client_golang/prometheus/promhttp: Metrics endpoint.
 * - internal/api: The handlers defined for this service.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures a new chi router with all the API routes
// for the payment service.
func NewRouter(handlers *PaymentHandlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/plans", handlers.ListPlansHandler)
	r.Post("/build-payment-transaction", handlers.BuildPaymentTransactionHandler)
	r.Post("/verify-payment", handlers.VerifyPaymentHandler)

	return r
}
