package auth

import (
	"context"

	"github.com/dbz-battle/authapi/internal/identity"
)

// Service turns verified credentials into tokens and tokens into profiles.
type Service struct {
	ids    *identity.Service
	tokens *Tokens
}

// NewService builds the login and profile service.
func NewService(ids *identity.Service, tokens *Tokens) *Service {
	return &Service{ids: ids, tokens: tokens}
}

// Login validates credentials (by delegating to identity.Service) and issues a token.
func (s *Service) Login(ctx context.Context, creds identity.Credentials) (string, error) {
	user, err := s.ids.Authenticate(ctx, creds)
	if err != nil {
		return "", err
	}
	return s.tokens.Issue(user.ID)
}

// Me returns the profile of the authenticated caller.
func (s *Service) Me(ctx context.Context, id Identity) (identity.User, error) {
	return s.ids.Profile(ctx, id.UserID)
}
