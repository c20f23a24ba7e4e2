package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booksoul/handler"
	"booksoul/internal/app"
	"booksoul/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv, 0)
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

	// ---- Handler ----
	h, err := handler.NewHandler(a.Intake, log.With("component", "webhook"))
	if err != nil {
		log.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	// Replies are produced by supervisor tasks after the webhook is acked, so
	// this binary only runs as a long-lived server.
	if cfg.PollInterval > 0 {
		go a.Poller.Run(ctx, cfg.PollInterval)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		if err := a.Supervisor.Shutdown(shutdownCtx); err != nil {
			log.Warn("background tasks cut short", "err", err)
		}
	}()

	log.Info("webhook listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "interpreter", cfg.Interpreter)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server failed", "err", err)
		os.Exit(1)
	}
	<-drained
}
