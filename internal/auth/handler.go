package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/dbz-battle/authapi/internal/apperr"
	"github.com/dbz-battle/authapi/internal/identity"
)

// Handler exposes auth endpoints for login and the current profile.
type Handler struct {
	svc *Service
}

// NewHandler constructs an auth HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

type meResponse struct {
	User identity.PublicUser `json:"user"`
}

// Login validates credentials and returns a bearer token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("request body must be valid JSON")
	}
	token, err := h.svc.Login(c.UserContext(), identity.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(loginResponse{Message: "login successful", Token: token})
}

// Me returns the profile behind the request's identity. It must be mounted
// behind the authorization gate.
func (h *Handler) Me(c *fiber.Ctx) error {
	id, ok := IdentityFrom(c.UserContext())
	if !ok {
		return apperr.NoToken()
	}
	user, err := h.svc.Me(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(meResponse{User: user.Public()})
}
