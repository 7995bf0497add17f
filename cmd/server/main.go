package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/laotypo/sessionsrv/internal/auth"
	"github.com/laotypo/sessionsrv/internal/config"
	"github.com/laotypo/sessionsrv/internal/database"
	"github.com/laotypo/sessionsrv/internal/handler/health"
	"github.com/laotypo/sessionsrv/internal/migrations"
	"github.com/laotypo/sessionsrv/internal/realtime"
	"github.com/laotypo/sessionsrv/internal/server"
	"github.com/laotypo/sessionsrv/internal/session"
	"github.com/laotypo/sessionsrv/internal/store"
	"github.com/laotypo/sessionsrv/internal/validation"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	applied, err := migrations.Run(ctx, db)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath, "migrations_applied", applied)

	// --- Redis ---
	rdb, err := realtime.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()
	logger.Info("connected to redis")

	// --- Services ---
	st := store.New(db)
	tree := realtime.New(rdb, logger)
	authn := auth.New(cfg.JWTSecret, cfg.JWTIssuer, cfg.AdminKeyHash)
	if cfg.AdminKeyHash == "" {
		logger.Warn("ADMIN_KEY_HASH is empty, admin routes are disabled")
	}

	sessions := session.NewManager(st, tree, authn, logger, session.Options{
		MaxPlayers: cfg.MaxPlayers,
		Countdown:  cfg.StartCountdown,
	})
	sweeper := session.NewSweeper(sessions, cfg.Retention, cfg.SweepInterval)
	validator := validation.New(st, logger, cfg.ScoreTolerance)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Sessions:      sessions,
		Sweeper:       sweeper,
		Validator:     validator,
		Auth:          authn,
		Tree:          tree,
		PublicBaseURL: cfg.PublicBaseURL,
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"sqlite": health.CheckFunc(st.Ping),
			"redis":  health.CheckFunc(tree.Ping),
		}).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		err := srv.Shutdown(context.Background())
		sessions.Wait()
		return err
	})

	g.Go(func() error {
		logger.Info("starting trigger workers", "workers", cfg.TriggerWorkers)
		return sessions.RunTriggers(gctx, cfg.TriggerWorkers)
	})

	g.Go(func() error {
		logger.Info("starting sweeper", "interval", cfg.SweepInterval, "retention", cfg.Retention)
		return sweeper.Run(gctx)
	})

	return g.Wait()
}
