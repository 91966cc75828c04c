package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/dbz-battle/authapi/internal/apperr"
	"github.com/dbz-battle/authapi/internal/logging"
)

const (
	idempotencyKeyHeader   = "Idempotency-Key"
	idempotentReplayHeader = "Idempotent-Replayed"
	idempotencyPrefix      = "idempotency:v1:"
	inProgressMarker       = "__in_progress__"
	maxIdempotencyKeyLen   = 255
	storeTimeout           = 2 * time.Second
)

var errInProgress = errors.New("idempotent request in progress")

type storedResponse struct {
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
	Fingerprint string            `json:"fingerprint"`
}

// errNoFingerprintKey guards against storing unkeyed digests of request
// bodies, which may carry plaintext passwords.
var errNoFingerprintKey = errors.New("idempotency fingerprint key must not be empty")

// replayStore keeps reservations and finished responses in Redis.
type replayStore struct {
	cache *redis.Client
	ttl   time.Duration
}

func (s replayStore) lookup(ctx context.Context, key string) (storedResponse, bool, error) {
	raw, err := s.cache.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return storedResponse{}, false, nil
	}
	if err != nil {
		return storedResponse{}, false, oops.Code("IDEMPOTENCY_LOOKUP_FAILED").Wrap(err)
	}
	if raw == inProgressMarker {
		return storedResponse{}, false, errInProgress
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return storedResponse{}, false, oops.Code("IDEMPOTENCY_DECODE_FAILED").Wrap(err)
	}
	return stored, true, nil
}

func (s replayStore) reserve(ctx context.Context, key string) error {
	ok, err := s.cache.SetNX(ctx, key, inProgressMarker, s.ttl).Result()
	if err != nil {
		return oops.Code("IDEMPOTENCY_RESERVE_FAILED").Wrap(err)
	}
	if !ok {
		return errInProgress
	}
	return nil
}

func (s replayStore) save(key string, resp storedResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return oops.Code("IDEMPOTENCY_ENCODE_FAILED").Wrap(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return oops.Code("IDEMPOTENCY_PERSIST_FAILED").Wrap(err)
	}
	return nil
}

// release drops a reservation so the client may retry.
func (s replayStore) release(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.cache.Del(ctx, key).Err()
}

// Idempotency replays the stored response when an unsafe request repeats an
// Idempotency-Key already seen within ttl. Requests without the header pass
// through untouched. Only responses below 400 are kept, so a failed attempt
// may be retried with the same key.
//
// Request bodies are compared through an HMAC under fingerprintKey, so the
// stored value cannot be checked offline against guessed passwords.
func Idempotency(cache *redis.Client, ttl time.Duration, fingerprintKey []byte, logger *slog.Logger) (fiber.Handler, error) {
	if len(fingerprintKey) == 0 {
		return nil, errNoFingerprintKey
	}
	macKey := make([]byte, len(fingerprintKey))
	copy(macKey, fingerprintKey)
	store := replayStore{cache: cache, ttl: ttl}

	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		idemKey := c.Get(idempotencyKeyHeader)
		if idemKey == "" {
			return c.Next()
		}
		if len(idemKey) > maxIdempotencyKeyLen {
			return apperr.Validation(fmt.Sprintf("%s must be at most %d characters", idempotencyKeyHeader, maxIdempotencyKeyLen))
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), storeTimeout)
		defer cancel()

		cacheKey := idempotencyPrefix + c.Path() + ":" + idemKey
		fingerprint := requestFingerprint(macKey, c)

		stored, found, err := store.lookup(ctx, cacheKey)
		switch {
		case errors.Is(err, errInProgress):
			return apperr.Conflict("a request with this Idempotency-Key is still being processed")
		case err != nil:
			return apperr.Internal(err)
		case found:
			if !hmac.Equal([]byte(stored.Fingerprint), []byte(fingerprint)) {
				return fiber.NewError(fiber.StatusUnprocessableEntity, idempotencyKeyHeader+" was already used with a different request")
			}
			for header, value := range stored.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) || strings.EqualFold(header, requestIDHeader) {
					continue
				}
				c.Set(header, value)
			}
			c.Set(idempotentReplayHeader, "true")
			return c.Status(stored.Status).SendString(stored.Body)
		}

		if err := store.reserve(ctx, cacheKey); err != nil {
			if errors.Is(err, errInProgress) {
				return apperr.Conflict("a request with this Idempotency-Key is still being processed")
			}
			return apperr.Internal(err)
		}

		if err := c.Next(); err != nil {
			releaseQuietly(store, cacheKey, logger)
			return err
		}
		if c.Response().StatusCode() >= fiber.StatusBadRequest {
			releaseQuietly(store, cacheKey, logger)
			return nil
		}

		resp := storedResponse{
			Status:      c.Response().StatusCode(),
			Body:        string(c.Response().Body()),
			Headers:     map[string]string{},
			Fingerprint: fingerprint,
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			resp.Headers[string(k)] = string(v)
		})

		// The handler already ran; a storage failure only costs the replay.
		if err := store.save(cacheKey, resp); err != nil {
			logging.LogError(logger, "persist idempotent response", err, slog.String("key", idemKey))
			releaseQuietly(store, cacheKey, logger)
		}
		return nil
	}, nil
}

func releaseQuietly(store replayStore, key string, logger *slog.Logger) {
	if err := store.release(key); err != nil {
		logger.Warn("release idempotency reservation", slog.String("key", key), slog.Any("error", err))
	}
}

func requestFingerprint(key []byte, c *fiber.Ctx) string {
	sum := hmac.New(sha256.New, key)
	sum.Write([]byte(c.Method()))
	sum.Write([]byte{0})
	sum.Write(c.Body())
	return hex.EncodeToString(sum.Sum(nil))
}
