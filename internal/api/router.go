/**
 * @description
 * This file sets up the HTTP router for the billing-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware: internal API key auth for service-to-service routes,
 * CORS plus rate limiting for the public payment link surface.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the public endpoints.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// BillingRoutes creates and returns the router for the billing service.
func BillingRoutes(h *BillingHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/billing", func(r chi.Router) {
		// Health check endpoint
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("healthy"))
		})

		// Webhook endpoint. The gateway notifies via POST but retries of old
		// notifications sometimes arrive as GET, so both are accepted.
		r.Post("/webhooks/gateway", h.GatewayWebhookHandler)
		r.Get("/webhooks/gateway", h.GatewayWebhookHandler)

		// Public payment link surface: unauthenticated, CORS-enabled,
		// rate-limited when Redis is configured.
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   []string{"https://*", "http://*"},
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Content-Type"},
				ExposedHeaders:   []string{"Link"},
				AllowCredentials: false,
				MaxAge:           300, // Maximum value not ignored by any major browsers
			}))
			r.Use(PublicRateLimitMiddleware(h.rateLimiter, h.rateLimit, h.rateWindow))

			r.Get("/public/charges/{slug}", h.ResolvePublicChargeHandler)
			r.Post("/public/charges/{slug}/access", h.RegisterPublicAccessHandler)
		})

		// Service-to-service endpoints behind the internal API key.
		r.Group(func(r chi.Router) {
			r.Use(InternalAuthMiddleware(internalAPIKey))

			r.Post("/charges", h.CreateChargeHandler)
			r.Get("/charges", h.ListChargesHandler)
			r.Get("/charges/{id}", h.GetChargeHandler)
			r.Post("/charges/{id}/cancel", h.CancelChargeHandler)
			r.Post("/charges/{id}/pay", h.InitiatePaymentHandler)
			r.Get("/charges/{id}/attempts", h.ListChargeAttemptsHandler)
			r.Post("/charges/{id}/public-link", h.CreatePublicLinkHandler)
			r.Delete("/public-links/{slug}", h.DeactivatePublicLinkHandler)
			r.Get("/payments/{gatewayPaymentID}", h.VerifyPaymentHandler)
		})
	})

	return r
}
