package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"booksoul/handler"
	"booksoul/internal/app"
	"booksoul/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv, time.Minute)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	// ---- Clients ----
	deps, err := app.LoadDeps(ctx, cfg)
	if err != nil {
		log.Error("failed to create clients", "err", err)
		os.Exit(1)
	}
	a, err := app.New(cfg, log, deps)
	if err != nil {
		log.Error("failed to build application", "err", err)
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		ph, err := handler.NewPollHandler(a.Poller, log.With("component", "scheduled"))
		if err != nil {
			log.Error("failed to create poll handler", "err", err)
			os.Exit(1)
		}
		lambda.Start(ph.Handle)
		return
	}

	if cfg.PollInterval <= 0 {
		log.Error("POLL_INTERVAL must be positive outside Lambda")
		os.Exit(1)
	}
	log.Info("poller started", "interval", cfg.PollInterval, "owner", a.Leases.Owner())
	a.Poller.Run(ctx, cfg.PollInterval)
	log.Info("poller stopped")
}
