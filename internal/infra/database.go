package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const maxConnectBackoff = 30 * time.Second

// RetryPolicy bounds startup connection attempts. Backoff doubles after each
// failure, capped at 30s.
type RetryPolicy struct {
	Attempts uint64
	Backoff  time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Backoff
	if base <= 0 {
		base = time.Second
	}
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(maxConnectBackoff, b)
	return retry.WithMaxRetries(attempts-1, b)
}

// NewPostgresPool configures and returns a PostgreSQL connection pool,
// retrying the initial ping according to policy.
func NewPostgresPool(ctx context.Context, url string, policy RetryPolicy, logger *slog.Logger) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse postgres config").Wrap(err)
	}

	var (
		pool    *pgxpool.Pool
		attempt int
	)
	err = retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return retryable(logger, attempt, fmt.Errorf("connect postgres: %w", err))
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return retryable(logger, attempt, fmt.Errorf("ping postgres: %w", err))
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("attempts", attempt).
			With("host", cfg.ConnConfig.Host).
			With("database", cfg.ConnConfig.Database).
			Wrap(err)
	}

	return pool, nil
}

func retryable(logger *slog.Logger, attempt int, err error) error {
	if logger != nil {
		logger.Warn("database not ready", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return retry.RetryableError(err)
}
