package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dbz-battle/authapi/internal/apperr"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = time.Hour

var errMissingSubject = errors.New("token carries no user id")

// ClaimsUser is the identity section of the token payload.
type ClaimsUser struct {
	ID string `json:"id"`
}

// Claims is the token payload: {"user":{"id":...}} plus exp and iat.
type Claims struct {
	User ClaimsUser `json:"user"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 bearer tokens with a fixed secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens builds a token issuer. The secret is copied and never changes.
func NewTokens(secret []byte, ttl time.Duration) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Tokens{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL reports the lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs a token for userID that expires after the configured TTL.
func (t *Tokens) Issue(userID string) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		User: ClaimsUser{ID: userID},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("sign token: %w", err))
	}
	return signed, nil
}

// Validate verifies the signature and expiry of tokenString and returns the
// identity it carries. Only HS256 is accepted.
func (t *Tokens) Validate(tokenString string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Identity{}, apperr.InvalidToken(err)
	}
	if claims.User.ID == "" {
		return Identity{}, apperr.InvalidToken(errMissingSubject)
	}
	return Identity{UserID: claims.User.ID}, nil
}
