package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dbz-battle/authapi/internal/apperr"
	"github.com/dbz-battle/authapi/internal/auth"
	"github.com/dbz-battle/authapi/internal/metrics"
)

const bearerPrefix = "bearer "

// TokenValidator verifies a bearer token.
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// JWTAuth returns a middleware that validates bearer tokens and attaches the
// caller's identity to the request context. Rejected requests never reach the
// next handler.
func JWTAuth(tokens TokenValidator, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len(bearerPrefix) || !strings.EqualFold(authz[:len(bearerPrefix)], bearerPrefix) {
			m.TokenCheck(metrics.OutcomeNoToken)
			return apperr.NoToken()
		}
		tokenStr := strings.TrimSpace(authz[len(bearerPrefix):])
		if tokenStr == "" {
			m.TokenCheck(metrics.OutcomeNoToken)
			return apperr.NoToken()
		}

		id, err := tokens.Validate(tokenStr)
		if err != nil {
			m.TokenCheck(metrics.OutcomeInvalidToken)
			if _, ok := apperr.As(err); ok {
				return err
			}
			return apperr.InvalidToken(err)
		}

		m.TokenCheck(metrics.OutcomeSuccess)
		c.SetUserContext(auth.WithIdentity(c.UserContext(), id))
		return c.Next()
	}
}
