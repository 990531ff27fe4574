// Package main is the entry point for the salon-core API server.
//
// It assembles the shared dependency graph, builds the HTTP chassis with all
// domain handlers, and serves until SIGINT/SIGTERM, shutting down gracefully.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"saloncore/internal/app"
	"saloncore/internal/booking"
	"saloncore/internal/core"
	"saloncore/internal/quiethours"
	"saloncore/internal/slots"
	"saloncore/internal/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	a, err := app.Bootstrap(ctx, "api")
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.Config
	logger := a.Logger

	quiet := quiethours.Window{Start: cfg.QuietHours.Start, End: cfg.QuietHours.End}

	orchestrator := booking.NewOrchestrator(booking.Options{
		Provider:   a.Provider,
		Resolver:   a.Resolver,
		Guard:      a.Guard,
		Mappings:   mappingsOrNil(a),
		Clients:    clientsOrNil(a),
		Reminders:  a.Scheduler,
		Scheduling: cfg.Scheduling,
		Contacts:   cfg.Contacts,
		Quiet:      quiet,
		Strict:     cfg.Security.StrictTenantConfig,
		Logger:     logger,
	})

	ingestor := webhooks.NewIngestor(webhooks.IngestorOptions{
		Resolver:  a.Resolver,
		Guard:     a.Guard,
		Limiter:   a.Limiter,
		Scheduler: a.Scheduler,
		Provider:  a.Provider,
		Mappings:  mappingsOrNil(a),
		Tenants:   tenantsOrNil(a),
		Clients:   clientsOrNil(a),
		Security:  cfg.Security,
		Contacts:  cfg.Contacts,
		Quiet:     quiet,
		Logger:    logger,
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Queue = a.Queue
	srv.Limiter = a.Limiter
	srv.Guard = a.Guard
	srv.Scheduler = a.Scheduler
	srv.Resolver = a.Resolver
	srv.Access = a.Access
	srv.Ingestor = ingestor
	srv.Bookings = orchestrator
	srv.Slots = slots.NewEngine(a.Provider, a.Resolver, cfg.Scheduling, cfg.Security.StrictTenantConfig)
	srv.Redis = a.Redis
	if a.KPIRepo != nil {
		srv.KPI = a.KPIRepo
	}
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("server stopped cleanly")
	return nil
}

// The stores are connected only when a database is configured; interface
// fields stay genuinely nil otherwise.
func mappingsOrNil(a *app.App) booking.MappingStore {
	if a.BookingRepo == nil {
		return nil
	}
	return a.BookingRepo
}

func clientsOrNil(a *app.App) booking.ClientStore {
	if a.ClientRepo == nil {
		return nil
	}
	return a.ClientRepo
}

func tenantsOrNil(a *app.App) webhooks.TenantStore {
	if a.TenantRepo == nil {
		return nil
	}
	return a.TenantRepo
}
