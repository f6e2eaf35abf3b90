package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/order"
	"github.com/hackgods/medoswift-realtime/internal/realtime"
	"github.com/hackgods/medoswift-realtime/internal/scheduling"
)

type RouterConfig struct {
	Coordinator *scheduling.Coordinator
	Checkout    *order.Ledger
	Lifecycle   *order.Lifecycle
	Hub         *realtime.Hub
	Auth        *auth.Authenticator
	Idempotency IdempotencyGuard
	Limiter     *RateLimiter
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	CORSOrigins []string
	WSBuffer    int
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.Limiter != nil {
		limit = cfg.Limiter.Limit
	}

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Hub, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/slots", listSlotsHandler(cfg.Coordinator))

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Get("/ws", realtime.ServeWS(cfg.Hub, cfg.CORSOrigins, cfg.WSBuffer))

		// Slot endpoints
		r.With(auth.RequireRole(auth.RoleDoctor)).Post("/slots", createSlotsHandler(cfg.Coordinator))

		// Appointment endpoints
		r.With(auth.RequireRole(auth.RoleUser), limit, Idempotent(cfg.Idempotency, "booking")).
			Post("/appointments", bookAppointmentHandler(cfg.Coordinator))
		r.Get("/appointments/mine", myAppointmentsHandler(cfg.Coordinator))
		r.Patch("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Coordinator))
		r.With(auth.RequireRole(auth.RoleDoctor)).Patch("/appointments/{id}/complete", completeAppointmentHandler(cfg.Coordinator))

		// Order endpoints
		r.With(auth.RequireRole(auth.RoleUser), limit, Idempotent(cfg.Idempotency, "checkout")).
			Post("/orders", checkoutHandler(cfg.Checkout))
		r.Get("/orders/mine", myOrdersHandler(cfg.Lifecycle))
		r.Get("/orders/{id}", getOrderHandler(cfg.Lifecycle))
		r.Get("/orders/{id}/track", trackOrderHandler(cfg.Lifecycle))
		r.With(auth.RequireRole(auth.RoleAdmin)).Patch("/orders/{id}/status", orderStatusHandler(cfg.Lifecycle))
		r.With(auth.RequireRole(auth.RoleAdmin)).Patch("/orders/{id}/courier", courierLocationHandler(cfg.Lifecycle))
	})

	return r
}
