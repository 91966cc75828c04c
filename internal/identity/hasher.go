package identity

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dbz-battle/authapi/internal/apperr"
)

const (
	// MinPasswordLength is counted in characters, not bytes.
	MinPasswordLength = 6
	// maxPasswordBytes is the bcrypt input limit.
	maxPasswordBytes = 72
)

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher builds a Hasher with the given bcrypt cost.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	// Compared against when a login names an unknown account.
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

// ValidatePassword checks the length rules applied before hashing.
func ValidatePassword(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < MinPasswordLength {
		return apperr.Validation(fmt.Sprintf("password must be at least %d characters long", MinPasswordLength))
	}
	if len(plaintext) > maxPasswordBytes {
		return apperr.Validation(fmt.Sprintf("password must be at most %d bytes long", maxPasswordBytes))
	}
	return nil
}

// HashPassword returns a salted bcrypt hash embedding its cost.
func (h *Hasher) HashPassword(plaintext string) (string, error) {
	if err := ValidatePassword(plaintext); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches hash. A malformed hash
// never matches.
func (h *Hasher) VerifyPassword(plaintext, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	return err == nil
}

// burn spends the same CPU as a real comparison.
func (h *Hasher) burn(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
