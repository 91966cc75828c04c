package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dbz-battle/authapi/internal/apperr"
	"github.com/dbz-battle/authapi/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *int, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	logger := logging.Discard()
	calls := new(int)
	replay, err := Idempotency(cache, time.Minute, []byte("fingerprint-test-key"), logger)
	if err != nil {
		t.Fatalf("idempotency: %v", err)
	}
	app.Use(replay)
	app.Post("/resource", func(c *fiber.Ctx) error {
		*calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": *calls})
	})
	app.Post("/conflict", func(c *fiber.Ctx) error {
		*calls++
		return apperr.Conflict("username or email already exists")
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, calls, cleanup
}

func postWithKey(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	return postBodyWithKey(t, app, path, key, "{}")
}

func postBodyWithKey(t *testing.T, app *fiber.App, path, key, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	for i := 0; i < 2; i++ {
		status, _ := postWithKey(t, app, "/resource", "")
		if status != fiber.StatusCreated {
			t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
		}
	}
	if *calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", *calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, payload := postWithKey(t, app, "/resource", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status2, cachedPayload := postWithKey(t, app, "/resource", "abc123")
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status2)
	}
	if cachedPayload != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cachedPayload)
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cachedPayload), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	for i := 0; i < 2; i++ {
		status, _ := postWithKey(t, app, "/conflict", "retry-me")
		if status != fiber.StatusConflict {
			t.Fatalf("expected %d got %d", fiber.StatusConflict, status)
		}
	}
	if *calls != 2 {
		t.Fatalf("failed response was replayed; handler ran %d times", *calls)
	}
}

func TestIdempotencyScopesKeysByPath(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	postWithKey(t, app, "/resource", "shared")
	postWithKey(t, app, "/conflict", "shared")
	if *calls != 2 {
		t.Fatalf("expected both routes to run, got %d calls", *calls)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	if status, _ := postBodyWithKey(t, app, "/resource", "k1", `{"a":1}`); status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}
	status, _ := postBodyWithKey(t, app, "/resource", "k1", `{"a":2}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}
}

func TestIdempotencyMarksReplays(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	send := func() string {
		req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
		req.Header.Set(idempotencyKeyHeader, "replayed")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		return resp.Header.Get(idempotentReplayHeader)
	}

	if got := send(); got != "" {
		t.Fatalf("first response marked as replay: %q", got)
	}
	if got := send(); got != "true" {
		t.Fatalf("expected replay marker, got %q", got)
	}
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, _ := postWithKey(t, app, "/resource", strings.Repeat("k", maxIdempotencyKeyLen+1))
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
	if *calls != 0 {
		t.Fatalf("handler ran for an oversized key")
	}
}

func TestIdempotencyRequiresFingerprintKey(t *testing.T) {
	cache := redis.NewClient(&redis.Options{})
	defer cache.Close()
	if _, err := Idempotency(cache, time.Minute, nil, logging.Discard()); err == nil {
		t.Fatal("expected an error for an empty fingerprint key")
	}
}
