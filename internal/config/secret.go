package config

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
)

const generatedSecretLen = 32

// ErrMissingSecret is returned outside production when JWT_SECRET is unset.
var ErrMissingSecret = errors.New("JWT_SECRET must be set outside production")

// SigningSecret is the process-wide token key. Generated reports whether it was
// synthesized at startup rather than configured.
type SigningSecret struct {
	Key       []byte
	Generated bool
}

// ResolveSigningSecret picks the token signing key once per process.
//
// An explicit JWT_SECRET always wins. In production a missing secret is
// replaced by random bytes held for the life of the process, which means every
// restart invalidates all issued tokens. Anywhere else a missing secret is fatal.
func ResolveSigningSecret(cfg Config, logger *slog.Logger) (SigningSecret, error) {
	if cfg.JWTSecret != "" {
		return SigningSecret{Key: []byte(cfg.JWTSecret)}, nil
	}
	if !cfg.IsProduction() {
		return SigningSecret{}, ErrMissingSecret
	}

	key := make([]byte, generatedSecretLen)
	if _, err := rand.Read(key); err != nil {
		return SigningSecret{}, fmt.Errorf("generate signing secret: %w", err)
	}
	if logger != nil {
		logger.Warn("JWT_SECRET not set; using a generated signing secret",
			slog.String("mode", "degraded-security"),
			slog.String("effect", "issued tokens become invalid on restart"),
		)
	}
	return SigningSecret{Key: key, Generated: true}, nil
}

// Derive returns a subkey of the signing secret bound to purpose, so other
// keyed digests never reuse the token key itself.
func (s SigningSecret) Derive(purpose string) []byte {
	mac := hmac.New(sha256.New, s.Key)
	mac.Write([]byte(purpose))
	return mac.Sum(nil)
}
