// Package core provides the HTTP chassis for the salon-core API: a chi
// router with the cross-cutting middleware chain (recovery, timeouts,
// request IDs, structured logging) in front of the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"saloncore/internal/booking"
	"saloncore/internal/config"
	"saloncore/internal/db"
	"saloncore/internal/queue"
	"saloncore/internal/slots"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
	"saloncore/internal/webhooks"
)

// KPISource aggregates operational metrics for a tenant. Implemented by
// db.KPIRepository; nil disables the endpoint.
type KPISource interface {
	Summary(ctx context.Context, tenantID, period string) (*db.KPISummary, error)
}

// QueueService is the queue surface the handlers use. Implemented by
// queue.Queue.
type QueueService interface {
	Enqueue(ctx context.Context, job *types.Job) error
	Stats(ctx context.Context, queueName string) (queue.Stats, error)
}

// RateService answers fixed-window rate checks. Implemented by
// ratelimit.Limiter.
type RateService interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}

// GuardService claims idempotency keys. Implemented by idempotency.Guard.
type GuardService interface {
	Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// ReminderService is the schedule surface the handlers use. Implemented by
// reminders.Scheduler.
type ReminderService interface {
	Schedule(ctx context.Context, r types.ReminderEntry, runAt time.Time) (string, error)
	PendingCount(ctx context.Context) (int64, error)
}

// RedisPinger reports Redis liveness for the health endpoint.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Server bundles all dependencies of the salon-core API so tests can inject
// fakes per concern.
type Server struct {
	Config    *config.Config
	Queue     QueueService
	Limiter   RateService
	Guard     GuardService
	Scheduler ReminderService
	Resolver  *tenant.Resolver
	Access    *tenant.AccessControl
	Ingestor  *webhooks.Ingestor
	Bookings  *booking.Orchestrator
	Slots     *slots.Engine
	KPI       KPISource
	Redis     RedisPinger
	Logger    *slog.Logger

	router *chi.Mux
}

// NewServer validates the non-optional dependencies and prepares the router.
// Routes are mounted separately so tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain and every endpoint.
// Middleware order matters: Recoverer outermost, then timeout, then request
// ID so logging has the correlation ID available.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Post("/queue/{name}", s.HandleEnqueue)
	s.router.Post("/send/{channel}", s.HandleDirectSend)

	s.router.Post("/bookings/create", s.HandleBookingCreate)
	s.router.Post("/bookings/reschedule", s.HandleBookingReschedule)
	s.router.Post("/bookings/cancel", s.HandleBookingCancel)
	s.router.Post("/slots/suggest", s.HandleSlotsSuggest)

	s.router.Post("/webhooks/calendar", s.HandleCalendarWebhook)
	s.router.Post("/webhooks/calendar/{tenantId}", s.HandleCalendarWebhook)
	s.router.Post("/webhooks/{channel}", s.HandleChannelWebhook)
	s.router.Post("/webhooks/{channel}/{tenantId}", s.HandleChannelWebhook)

	s.router.Get("/tenants/{tenantId}/config", s.HandleTenantConfigGet)
	s.router.Put("/tenants/{tenantId}/config", s.HandleTenantConfigPut)
	s.router.Delete("/tenants/{tenantId}/config", s.HandleTenantConfigDelete)

	s.router.Get("/kpi", s.HandleKPI)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/health/queues", s.HandleHealthQueues)
	s.router.Get("/health/metrics", s.HandleHealthMetrics)
}

// tenantIDOptions derives host-based tenant resolution settings from config.
func (s *Server) tenantIDOptions() tenant.IDOptions {
	return tenant.IDOptions{
		FromHost:   s.Config.Security.TenantFromHost,
		HostSuffix: s.Config.Security.TenantHostSuffix,
	}
}
