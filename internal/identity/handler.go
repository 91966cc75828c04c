package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/dbz-battle/authapi/internal/apperr"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	Message string     `json:"message"`
	User    PublicUser `json:"user"`
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("request body must be valid JSON")
	}
	user, err := h.service.Register(c.UserContext(), Registration{Username: req.Username, Email: req.Email, Password: req.Password})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(registerResponse{Message: "user registered successfully", User: user.Public()})
}
