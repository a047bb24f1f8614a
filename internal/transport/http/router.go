package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	Logger         *slog.Logger
	CORSOrigins    []string
	// RateLimitRPS of zero disables the per-IP limiter.
	RateLimitRPS   float64
	RateLimitBurst int
	// AdminJWTSecret empty leaves the admin routes unmounted.
	AdminJWTSecret string

	Verifier   SignatureVerifier
	Dispatcher NotificationDispatcher
	Status     OrderStatusReader
	Sessions   SessionCreator
	Admin      AdminOrderService
	Store      Pinger
}

// NewRouter wires every endpoint. The webhook and health routes are exempt from
// the per-IP limiter; the gateway and probes must never be throttled.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return RequestLogger(next, logger) })
	r.Use(CORS(cfg.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", HealthHandler)
	r.Get("/ready", ReadyHandler(cfg.Store, logger))
	r.Post("/webhooks/gateway", HandleWebhook(cfg.Verifier, cfg.Dispatcher, logger))

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)
		}
		r.Post("/orders", HandleCreateSession(cfg.Sessions))
		r.Get("/orders/{orderID}/status", HandleOrderStatus(cfg.Status))
		r.Get("/payments/sessions/{sessionID}", HandleSessionStatus(cfg.Status))
	})

	if cfg.AdminJWTSecret != "" && cfg.Admin != nil {
		r.Route("/admin/orders/{orderID}", func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler { return AdminAuth(cfg.AdminJWTSecret, next) })
			r.Post("/cancel", HandleAdminCancel(cfg.Admin))
			r.Post("/reconcile", HandleAdminReconcile(cfg.Admin))
			r.Get("/events", HandleAdminEvents(cfg.Admin))
		})
	}
	return r
}
