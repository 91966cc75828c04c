package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dbz-battle/authapi/internal/auth"
	"github.com/dbz-battle/authapi/internal/config"
	"github.com/dbz-battle/authapi/internal/identity"
	"github.com/dbz-battle/authapi/internal/metrics"
	"github.com/dbz-battle/authapi/internal/middleware"
	"github.com/dbz-battle/authapi/internal/notification"
)

var corsMethods = strings.Join([]string{
	fiber.MethodGet, fiber.MethodPost, fiber.MethodPut, fiber.MethodDelete, fiber.MethodOptions,
}, ",")

var corsHeaders = strings.Join([]string{fiber.HeaderContentType, fiber.HeaderAuthorization}, ",")

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Hasher *identity.Hasher
	Tokens *auth.Tokens

	// ReplayKey keys the idempotency body fingerprints. Required with Cache.
	ReplayKey []byte

	// Users overrides the repository built from DB.
	Users identity.Repository

	Metrics  *metrics.Metrics
	Registry prometheus.Gatherer
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Hasher == nil || d.Tokens == nil {
		return fmt.Errorf("hasher and token issuer are required")
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	users := d.Users
	if users == nil {
		switch {
		case d.DB != nil:
			users = identity.NewPostgresRepository(d.DB)
		case isDev(d.Cfg.AppEnv):
			d.Logger.Warn("no database configured; users are kept in memory")
			users = identity.NewMemoryRepository()
		default:
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.LogLevel == "debug" {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
			Output:     os.Stderr,
		}))
	}
	app.Use(middleware.Audit(d.Logger))
	app.Use(cors.New(corsConfig(d.Cfg.AllowedOrigins)))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).SendString(d.Cfg.AppName + " is running!")
	})
	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Registry)

	identitySvc := identity.NewService(users, d.Hasher,
		identity.WithNotifier(notification.NewLoggerNotifier(d.Logger)),
		identity.WithMetrics(d.Metrics),
		identity.WithLogger(d.Logger),
	)
	authSvc := auth.NewService(identitySvc, d.Tokens)

	// Login responses carry a bearer token and must never be stored, so
	// replay protection covers registration only.
	var replay fiber.Handler
	if d.Cache != nil {
		h, err := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.ReplayKey, d.Logger)
		if err != nil {
			return fmt.Errorf("configure idempotency: %w", err)
		}
		replay = h
	}

	api := app.Group("/api")
	RegisterAuthRoutes(api, AuthHandlers{
		Identity: identity.NewHandler(identitySvc),
		Auth:     auth.NewHandler(authSvc),
		Gate:     middleware.JWTAuth(d.Tokens, d.Metrics),
		Replay:   replay,
	})

	return nil
}

func corsConfig(origins []string) cors.Config {
	allowed := make([]string, 0, len(origins))
	wildcard := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
			continue
		case "*":
			wildcard = true
		}
		allowed = append(allowed, o)
	}

	// fiber refuses credentials with a wildcard origin.
	if wildcard || len(allowed) == 0 {
		return cors.Config{AllowOrigins: "*", AllowMethods: corsMethods, AllowHeaders: corsHeaders}
	}
	return cors.Config{
		AllowOrigins:     strings.Join(allowed, ","),
		AllowMethods:     corsMethods,
		AllowHeaders:     corsHeaders,
		AllowCredentials: true,
	}
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
