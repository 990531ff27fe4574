// Package main runs the transactional worker: it consumes the tx queue and
// routes notifications to the per-channel send queues.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"saloncore/internal/app"
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

	a, err := app.Bootstrap(ctx, "tx-worker")
	if err != nil {
		return err
	}
	defer a.Close()

	handler := workers.NewTxHandler(a.Queue, a.Logger)
	runner := workers.NewRunner(a.Queue, types.QueueTx, handler, a.Config.Workers.Tx(), jobLog(a), a.Logger)
	return runner.Run(ctx)
}

func jobLog(a *app.App) workers.JobLog {
	if a.JobLogRepo == nil {
		return nil
	}
	return a.JobLogRepo
}
