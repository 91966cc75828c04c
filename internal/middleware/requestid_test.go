package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	cases := map[string]struct {
		incoming string
		keep     bool
	}{
		"generated when missing":   {"", false},
		"client value kept":        {"abc-123", true},
		"oversized value replaced": {strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for name, tc := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		if tc.incoming != "" {
			req.Header.Set(requestIDHeader, tc.incoming)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		resp.Body.Close()

		got := resp.Header.Get(requestIDHeader)
		if got == "" {
			t.Fatalf("%s: response carries no request id", name)
		}
		if tc.keep && got != tc.incoming {
			t.Fatalf("%s: expected %q got %q", name, tc.incoming, got)
		}
		if !tc.keep && got == tc.incoming {
			t.Fatalf("%s: expected a generated id", name)
		}
	}
}
