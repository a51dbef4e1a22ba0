package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sokohub/sokohub-backend/api/controllers"
	ordercontrollers "github.com/sokohub/sokohub-backend/api/controllers/orders"
	paymentcontrollers "github.com/sokohub/sokohub-backend/api/controllers/payments"
	trackingcontrollers "github.com/sokohub/sokohub-backend/api/controllers/tracking"
	webhookcontrollers "github.com/sokohub/sokohub-backend/api/controllers/webhooks"
	"github.com/sokohub/sokohub-backend/api/middleware"
	"github.com/sokohub/sokohub-backend/internal/delivery"
	orderssvc "github.com/sokohub/sokohub-backend/internal/orders"
	paymentssvc "github.com/sokohub/sokohub-backend/internal/payments"
	"github.com/sokohub/sokohub-backend/internal/payments/retry"
	trackingsvc "github.com/sokohub/sokohub-backend/internal/tracking"
	"github.com/sokohub/sokohub-backend/pkg/config"
	"github.com/sokohub/sokohub-backend/pkg/db"
	"github.com/sokohub/sokohub-backend/pkg/logger"
	"github.com/sokohub/sokohub-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	metricsRegistry *prometheus.Registry,
	deliveryService *delivery.Service,
	ordersService *orderssvc.Service,
	paymentsService *paymentssvc.Service,
	retryService *retry.Service,
	trackingService *trackingsvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.AuthRateLimit.CheckoutWindow,
		cfg.AuthRateLimit.CheckoutIPLimit,
		cfg.AuthRateLimit.CheckoutLimit,
	)
	retryPolicy := middleware.NewRateLimitPolicy(
		"payment-retry",
		cfg.AuthRateLimit.RetryWindow,
		cfg.AuthRateLimit.RetryLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisClient))
	})
	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mpesa", webhookcontrollers.MpesaCallback(paymentsService, logg))
	})

	// Public surfaces. Tracking lookups come from order confirmation SMS
	// links, so they carry no auth.
	r.Route("/api/v1/delivery-locations", func(r chi.Router) {
		r.Get("/", ordercontrollers.ListDeliveryLocations(deliveryService, logg))
		r.Get("/estimate", ordercontrollers.DeliveryEstimate(deliveryService, logg))
	})
	r.Get("/api/v1/tracking/{orderNumber}", trackingcontrollers.GetByOrderNumber(trackingService, logg))

	// Checkout accepts both guests and signed-in customers.
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))
		r.With(middleware.RateLimit(checkoutPolicy, redisClient, logg)).
			Post("/api/v1/checkout", ordercontrollers.Checkout(ordersService, logg))
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))
		r.Get("/{checkoutRequestID}/status", paymentcontrollers.CheckStatus(paymentsService, logg))
		r.With(middleware.RateLimit(retryPolicy, redisClient, logg)).
			Post("/{paymentID}/retry", paymentcontrollers.Retry(retryService, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/", ordercontrollers.List(ordersService, logg))
		r.Get("/{orderID}", ordercontrollers.Get(ordersService, logg))
		r.Post("/{orderID}/promo", ordercontrollers.ApplyPromo(ordersService, logg))
		r.Post("/{orderID}/return", ordercontrollers.CreateReturn(ordersService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, "staff", "admin"))
			r.Patch("/{orderID}/status", ordercontrollers.UpdateStatus(ordersService, logg))
			r.Route("/{orderID}/tracking", func(r chi.Router) {
				r.Get("/", trackingcontrollers.Get(trackingService, logg))
				r.Patch("/", trackingcontrollers.UpdateStatus(trackingService, logg))
				r.Post("/confirm", trackingcontrollers.Confirm(trackingService, logg))
			})
		})
	})

	return r
}
