package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dbz-battle/authapi/internal/apperr"
	"github.com/dbz-battle/authapi/internal/auth"
	"github.com/dbz-battle/authapi/internal/logging"
)

// Audit emits structured logs for each request/response lifecycle event.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = StatusOf(err)
		}
		duration := time.Since(start)
		requestID := RequestIDFrom(c)

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", duration),
		}
		if requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if id, ok := auth.IdentityFrom(c.UserContext()); ok {
			attrs = append(attrs, slog.String("user_id", id.UserID))
		}
		if err != nil {
			if status >= fiber.StatusInternalServerError {
				logging.LogError(logger, "request completed", err, attrs...)
			} else {
				logger.Warn("request completed", append(attrs, slog.String("error", err.Error()))...)
			}
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}

// StatusOf maps a handler error to the HTTP status it is reported with.
func StatusOf(err error) int {
	if appErr, ok := apperr.As(err); ok {
		return appErr.Status()
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}
