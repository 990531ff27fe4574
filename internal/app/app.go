// Package app wires the shared dependency graph used by every salon-core
// binary: configuration, logging, the Redis-backed primitives, the tenant
// resolver, and the optional PostgreSQL repositories.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"saloncore/internal/calendar"
	"saloncore/internal/config"
	"saloncore/internal/db"
	"saloncore/internal/idempotency"
	"saloncore/internal/queue"
	"saloncore/internal/ratelimit"
	"saloncore/internal/reminders"
	"saloncore/internal/senders"
	"saloncore/internal/tenant"
)

// defaultTenantFile is used when the file source is selected without an
// explicit path.
const defaultTenantFile = "tenants.json"

// App is the assembled dependency graph. Database-backed fields are nil when
// DATABASE_URL is unset.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Redis     *redis.Client
	Queue     *queue.Queue
	Guard     *idempotency.Guard
	Limiter   *ratelimit.Limiter
	Scheduler *reminders.Scheduler
	Resolver  *tenant.Resolver
	Access    *tenant.AccessControl
	Provider  calendar.Provider
	Senders   *senders.Registry

	Pool        *pgxpool.Pool
	TenantRepo  *db.TenantConfigRepository
	BookingRepo *db.BookingRepository
	ClientRepo  *db.ClientRepository
	JobLogRepo  *db.JobLogRepository
	KPIRepo     *db.KPIRepository
}

// Bootstrap loads configuration and builds the full graph. The Redis
// connection is verified eagerly; a broken Redis fails startup since nothing
// works without the shared store.
func Bootstrap(ctx context.Context, service string) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := NewLogger(cfg.LogLevel).With(slog.String("service", service))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Unmask(),
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Redis:     rdb,
		Guard:     idempotency.NewGuard(rdb),
		Limiter:   ratelimit.NewLimiter(rdb),
		Scheduler: reminders.NewScheduler(rdb, logger),
		Provider:  calendar.NewProvider(cfg.Calendar),
		Senders:   senders.NewRegistry(cfg.Channels),
	}
	a.Queue = queue.New(rdb, queue.Options{
		Group:      cfg.Queue.Group,
		Consumer:   cfg.Queue.Consumer,
		BlockTime:  cfg.Queue.BlockTime,
		AckTimeout: cfg.Queue.AckTimeout,
		ClaimCount: cfg.Queue.ClaimCount,
	}, logger)

	if cfg.Database.URL.Unmask() != "" {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.Pool = pool
		a.TenantRepo = db.NewTenantConfigRepository(pool)
		a.BookingRepo = db.NewBookingRepository(pool)
		a.ClientRepo = db.NewClientRepository(pool)
		a.JobLogRepo = db.NewJobLogRepository(pool)
		a.KPIRepo = db.NewKPIRepository(pool)
	}

	source, err := a.tenantSource()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Resolver = tenant.NewResolver(source, cfg.Tenants.ReloadInterval, logger)
	a.Access = tenant.NewAccessControl(a.Resolver, cfg.Security.AdminToken.Unmask())

	logger.Info("dependencies initialized",
		slog.String("environment", cfg.Environment),
		slog.String("redis", cfg.Redis.Addr),
		slog.Bool("database", a.Pool != nil),
		slog.Bool("calendar_mock", cfg.Calendar.Mock),
		slog.Bool("senders_mock", cfg.Channels.MockSenders))
	return a, nil
}

// tenantSource picks the config source: "db" requires a database, "file"
// reads a JSON document, "auto" prefers the database when one is connected.
func (a *App) tenantSource() (tenant.Source, error) {
	mode := a.Config.Tenants.Source
	if mode == "auto" {
		if a.TenantRepo != nil {
			mode = "db"
		} else {
			mode = "file"
		}
	}
	switch mode {
	case "db":
		if a.TenantRepo == nil {
			return nil, fmt.Errorf("tenant config source is db but DATABASE_URL is unset")
		}
		return tenant.NewDBSource(a.TenantRepo), nil
	default:
		path := a.Config.Tenants.FilePath
		if path == "" {
			path = defaultTenantFile
		}
		return tenant.NewFileSource(path), nil
	}
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

// NewLogger creates the application-wide structured JSON logger.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
