package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/api/handler"
	"github.com/veripay/settlement-engine/internal/api/middleware"
	"github.com/veripay/settlement-engine/internal/config"
	"github.com/veripay/settlement-engine/internal/idempotency"
	"github.com/veripay/settlement-engine/internal/notify"
	"github.com/veripay/settlement-engine/internal/service"
)

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	store     service.QueryStore
	idemStore *idempotency.Store
	redis     redis.Cmdable
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, store service.QueryStore, idemStore *idempotency.Store, redisClient redis.Cmdable) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     store,
		idemStore: idemStore,
		redis:     redisClient,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))

	// Services
	var bus notify.Publisher = notify.Noop{}
	if api.redis != nil {
		bus = notify.NewRedisPublisher(api.redis)
	}
	matchingSvc := service.NewMatchingService(api.store).
		WithMatchWindow(api.cfg.MatchWindow)
	completionSvc := service.NewCompletionService(api.store, bus).
		WithSettleEpsilon(api.cfg.SettleEpsilon)
	intakeSvc := service.NewIntakeService(api.store, matchingSvc).
		WithPayinTTL(api.cfg.PayinTTL)

	// Handlers
	intakeHandler := handler.NewIntakeHandler(intakeSvc)
	payoutHandler := handler.NewPayoutHandler(intakeSvc)
	completionHandler := handler.NewCompletionHandler(completionSvc)
	webhookHandler := handler.NewWebhookHandler(intakeSvc, completionSvc)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Operational endpoints
	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)
	r.Method("GET", "/metrics", promhttp.Handler())

	// Gateway callbacks: HMAC-verified, never idempotency-gated; gateways
	// retry with the same payload and Confirm is a no-op on replay.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Use(middleware.WebhookSignatureMiddleware)
		r.Post("/v1/webhooks/payin", webhookHandler.HandlePayinWebhook)
		r.Post("/v1/webhooks/hypto", webhookHandler.HandleHyptoWebhook)
		r.Post("/v1/webhooks/zwitch", webhookHandler.HandleZwitchWebhook)
	})

	// Intake and manual completion
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Use(middleware.IdempotencyMiddleware(api.idemStore, api.logger))
		r.Post("/v1/payins", intakeHandler.CreatePayin)
		r.Post("/v1/payouts", intakeHandler.CreatePayout)
		r.Post("/v1/payins/{id}/utr", completionHandler.SubmitUTR)
		r.Post("/v1/payins/{id}/screenshot", completionHandler.SubmitScreenshot)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/v1/payouts/{ref}", payoutHandler.GetPayout)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole("admin"))
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/admin/payins/{id}/approve", completionHandler.AdminApprove)
	})

	return r
}
