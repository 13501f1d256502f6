package rest

import (
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/storefront-payments/api"
	"github.com/frahmantamala/storefront-payments/internal/auth"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/internal/transport/middleware"
	"github.com/frahmantamala/storefront-payments/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, doc *openapi3.T, health *HealthHandler, authHandler *auth.Handler, rbac *auth.RBACAuthorization, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) error {
	validateWebhook, err := middleware.ValidateOperation(doc, http.MethodPost, "/payment/webhook", logger)
	if err != nil {
		return err
	}

	// Apply global middleware
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(api.Spec)
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match the OpenAPI server url
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.healthCheckHandler)
		r.Get("/ping", health.pingHandler)

		// Gateway-facing routes
		r.Get("/payment/callback", paymentHandler.Callback)
		r.With(validateWebhook).Post("/payment/webhook", webhookHandler.HandleWebhook)

		r.Route("/orders/{orderID}/payment", func(or chi.Router) {
			or.Post("/", paymentHandler.CreateSession)
			or.Get("/", paymentHandler.GetStatus)

			// Operator routes
			or.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)
				pr.Use(rbac.RequireRefundPayment())
				pr.Post("/refund", paymentHandler.Refund)
			})
		})
	})
	return nil
}
