// Package main runs the reminder worker: it drains due reminders from the
// time-ordered schedule and re-injects them into their target queues.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"saloncore/internal/app"
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

	a, err := app.Bootstrap(ctx, "reminder-worker")
	if err != nil {
		return err
	}
	defer a.Close()

	worker := workers.NewReminderWorker(a.Scheduler, a.Queue, a.Config.Workers.ReminderPoll, a.Logger)
	return worker.Run(ctx)
}
