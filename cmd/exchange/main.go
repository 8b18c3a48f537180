// Predix — an exchange core for binary-outcome prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, opens the store, recovers state, serves
//	engine/engine.go     — matching core: price-time priority over per-price FIFO queues
//	engine/resolve.go    — event lifecycle: creation, seeding, resolution payouts
//	engine/recover.go    — crash recovery: replays interrupted resolutions, rehydrates the book
//	book/book.go         — in-memory price-level queues with per-queue timed locks
//	book/projector.go    — L2 depth snapshots and market summaries
//	store/postgres.go    — relational persistence: orders, trades, balances, portfolios
//	api/server.go        — REST + WebSocket surface
//	api/stream.go        — per-event book feed rooms
//	pkg/client           — Go SDK for the REST API and the live feed
//
// Orders are integer-priced limit orders on YES/NO shares of a binary
// event. Matching preserves the resting order's price; every fill settles
// atomically against balances and portfolios. Resolution pays winners 10
// per share, losers 0, and both sides 5 on a draw.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"predix/internal/api"
	"predix/internal/config"
	"predix/internal/engine"
	"predix/internal/store"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PREDIX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	eng := engine.New(engine.Config{
		LockTimeout:    cfg.Engine.LockTimeout,
		LockRetries:    cfg.Engine.LockRetries,
		RetryBackoff:   cfg.Engine.RetryBackoff,
		OperatorUserID: cfg.Engine.OperatorUserID,
	}, st, logger)

	if err := eng.Recover(ctx); err != nil {
		logger.Error("recovery failed", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg.Server, eng, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		return server.Stop()
	})

	logger.Info("exchange started", "port", cfg.Server.Port,
		"operator", cfg.Engine.OperatorUserID)

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
