package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dbz-battle/authapi/internal/auth"
	"github.com/dbz-battle/authapi/internal/config"
	"github.com/dbz-battle/authapi/internal/identity"
	"github.com/dbz-battle/authapi/internal/infra"
	"github.com/dbz-battle/authapi/internal/logging"
	"github.com/dbz-battle/authapi/internal/metrics"
	"github.com/dbz-battle/authapi/internal/routes"
	"github.com/dbz-battle/authapi/internal/server"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}

	logger := logging.New(cfg.LogLevel)

	secret, err := config.ResolveSigningSecret(cfg, logger)
	if err != nil {
		logger.Error("resolve signing secret", "error", err)
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.RetryPolicy{
		Attempts: cfg.DBConnectAttempts,
		Backoff:  cfg.DBConnectBackoff,
	}, logger)
	if err != nil {
		logging.LogError(logger, "connect postgres", err)
		return err
	}
	defer db.Close()

	if cfg.ShouldAutoMigrate() {
		if err := migrateUp(cfg.DatabaseURL); err != nil {
			logging.LogError(logger, "apply migrations", err)
			return err
		}
		logger.Info("migrations applied")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logging.LogError(logger, "connect redis", err)
			return err
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	hasher, err := identity.NewHasher(cfg.BcryptCost)
	if err != nil {
		logger.Error("configure password hashing", "error", err)
		return err
	}
	tokens, err := auth.NewTokens(secret.Key, cfg.TokenTTL)
	if err != nil {
		logger.Error("configure tokens", "error", err)
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		logger.Error("register metrics", "error", err)
		return err
	}

	srv, err := server.New(routes.Deps{
		Cfg:       cfg,
		DB:        db,
		Cache:     cache,
		Logger:    logger,
		Hasher:    hasher,
		Tokens:    tokens,
		ReplayKey: secret.Derive("idempotency-fingerprint"),
		Metrics:   m,
		Registry:  reg,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		return err
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	logger.Info("server listening",
		slog.String("addr", cfg.Address()),
		slog.String("env", cfg.AppEnv),
		slog.Bool("idempotency", cache != nil),
		slog.Bool("generated_secret", secret.Generated),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server exited cleanly")
	return nil
}
