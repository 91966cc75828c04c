package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dbz-battle/authapi/internal/auth"
	"github.com/dbz-battle/authapi/internal/identity"
)

// AuthHandlers groups what the /auth routes are built from. Replay is
// optional.
type AuthHandlers struct {
	Identity *identity.Handler
	Auth     *auth.Handler
	Gate     fiber.Handler
	Replay   fiber.Handler
}

// RegisterAuthRoutes wires registration, login and the protected profile.
func RegisterAuthRoutes(r fiber.Router, h AuthHandlers) {
	group := r.Group("/auth")
	if h.Replay != nil {
		group.Post("/register", h.Replay, h.Identity.Register)
	} else {
		group.Post("/register", h.Identity.Register)
	}
	group.Post("/login", h.Auth.Login)
	group.Get("/me", h.Gate, h.Auth.Me)
}
