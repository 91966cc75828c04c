package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/dbz-battle/authapi/internal/apperr"
)

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Get("/conflict", func(*fiber.Ctx) error { return apperr.Conflict("username or email already exists") })
	app.Get("/fiber", func(*fiber.Ctx) error { return fiber.NewError(fiber.StatusBadRequest, "bad body") })
	app.Get("/boom", func(*fiber.Ctx) error { return errors.New("pq: password authentication failed for user root") })

	cases := []struct {
		path    string
		status  int
		code    string
		message string
	}{
		{"/conflict", fiber.StatusConflict, apperr.CodeConflict, "username or email already exists"},
		{"/fiber", fiber.StatusBadRequest, apperr.CodeValidation, "bad body"},
		{"/boom", fiber.StatusInternalServerError, apperr.CodeInternal, "internal server error"},
		{"/missing", fiber.StatusNotFound, apperr.CodeNotFound, ""},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tc.path, nil))
		if err != nil {
			t.Fatalf("%s: %v", tc.path, err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d got %d", tc.path, tc.status, resp.StatusCode)
		}
		var body ErrorBody
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("%s: decode: %v", tc.path, err)
		}
		if body.Code != tc.code {
			t.Fatalf("%s: expected code %s got %s", tc.path, tc.code, body.Code)
		}
		if tc.message != "" && body.Message != tc.message {
			t.Fatalf("%s: expected message %q got %q", tc.path, tc.message, body.Message)
		}
		if strings.Contains(string(raw), "pq:") {
			t.Fatalf("%s: internal detail leaked: %s", tc.path, raw)
		}
	}
}
