package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"AuthAPI"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"5001"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	BcryptCost     int           `env:"BCRYPT_COST" envDefault:"10"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	DBConnectAttempts uint64        `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
	DBConnectBackoff  time.Duration `env:"DB_CONNECT_BACKOFF" envDefault:"1s"`

	// AutoMigrate is nil when unset so the deployment mode can pick the default.
	AutoMigrate *bool `env:"AUTO_MIGRATE"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_TTL: must be positive")
	}
	if cfg.DBConnectAttempts == 0 {
		cfg.DBConnectAttempts = 1
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsProduction reports whether the process runs in production deployment mode.
func (c Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.AppEnv)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// ShouldAutoMigrate reports whether the schema is migrated on startup.
// Unless set explicitly, migrations run automatically outside production only.
func (c Config) ShouldAutoMigrate() bool {
	if c.AutoMigrate != nil {
		return *c.AutoMigrate
	}
	return !c.IsProduction()
}
