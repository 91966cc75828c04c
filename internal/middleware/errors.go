package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/dbz-battle/authapi/internal/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorHandler is the outermost error boundary. Application errors are
// reported with their own status and message; anything unrecognized becomes
// a bare 500 so internal detail never reaches the client. Logging is left to
// Audit.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if appErr, ok := apperr.As(err); ok {
			return c.Status(appErr.Status()).JSON(ErrorBody{Message: appErr.Message, Code: appErr.Code})
		}
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorBody{Message: fiberErr.Message, Code: codeForStatus(fiberErr.Code)})
		}
		internal := apperr.Internal(err)
		return c.Status(internal.Status()).JSON(ErrorBody{Message: internal.Message, Code: internal.Code})
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return apperr.CodeValidation
	case fiber.StatusConflict:
		return apperr.CodeConflict
	case fiber.StatusNotFound:
		return apperr.CodeNotFound
	case fiber.StatusInternalServerError:
		return apperr.CodeInternal
	default:
		return ""
	}
}
