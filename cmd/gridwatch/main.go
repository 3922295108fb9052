package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridwatch/gridwatch/pkg/cache"
	"github.com/gridwatch/gridwatch/pkg/history"
	"github.com/gridwatch/gridwatch/pkg/inverter"
	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/monitor"
	"github.com/gridwatch/gridwatch/pkg/notify"
	"github.com/gridwatch/gridwatch/pkg/server"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	src := inverter.Configured()
	store := cache.Configured(src.Location)
	fetcher := history.Configured(src, store)
	notifier := notify.Configured()
	mon := monitor.Configured(src, store, notifier)

	// init server
	srv := server.Configured(src, fetcher, mon)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		notifier.Close()
		if err := store.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close cache store", "error", err)
		}
	}()

	// the monitor polls in the background while the server handles requests
	monErr := make(chan error, 1)
	go func() {
		monErr <- mon.Run(ctx)
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	if err := <-monErr; err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "monitor failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "exited cleanly")
}
