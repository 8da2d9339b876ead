package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/config"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/telemetry"
)

const serviceName = "canary-stack"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).
			Error("cannot load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// stdout carries command output; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewTracerProvider(ctx, serviceName, cfg.TracingEnabled)
	if err != nil {
		logger.Error("cannot initialize tracer provider", slog.String("error", err.Error()))
		os.Exit(1)
	}

	root := newRootCommand(&app{cfg: cfg, logger: logger})
	err = root.ExecuteContext(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if serr := tp.Shutdown(shutdownCtx); serr != nil {
		logger.Error("cannot shutdown tracer provider", slog.String("error", serr.Error()))
	}
	cancel()

	if err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
