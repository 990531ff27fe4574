// Package main runs the sender worker: one consumer per channel send queue,
// delivering through the channel adapters under the per-channel RPS limits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"saloncore/internal/app"
	"saloncore/internal/senders"
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

	a, err := app.Bootstrap(ctx, "sender-worker")
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.Config

	handler := workers.NewSenderHandler(a.Senders, a.Resolver, a.Limiter, cfg.RateLimits, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range senders.Channels {
		runner := workers.NewRunner(
			a.Queue,
			types.SendQueue(channel),
			handler,
			cfg.Workers.Send(),
			jobLog(a),
			a.Logger,
		)
		g.Go(func() error { return runner.Run(gctx) })
	}
	return g.Wait()
}

func jobLog(a *app.App) workers.JobLog {
	if a.JobLogRepo == nil {
		return nil
	}
	return a.JobLogRepo
}
