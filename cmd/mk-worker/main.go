// Package main runs the marketing worker: it consumes the mk queue with
// quiet-hours deferral, campaign dedupe, per-client frequency capping, and
// paced routing to the send queues.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"saloncore/internal/app"
	"saloncore/internal/quiethours"
	"saloncore/internal/types"
	"saloncore/internal/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap(ctx, "mk-worker")
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.Config

	quiet := quiethours.Window{Start: cfg.QuietHours.Start, End: cfg.QuietHours.End}
	handler := workers.NewMkHandler(
		a.Queue,
		a.Guard,
		a.Limiter,
		a.Scheduler,
		cfg.RateLimits,
		quiet,
		cfg.Workers.MkThrottle,
		a.Logger,
	)
	runner := workers.NewRunner(a.Queue, types.QueueMk, handler, cfg.Workers.Mk(), jobLog(a), a.Logger)
	return runner.Run(ctx)
}

func jobLog(a *app.App) workers.JobLog {
	if a.JobLogRepo == nil {
		return nil
	}
	return a.JobLogRepo
}
