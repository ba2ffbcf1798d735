package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
)

// AuthService authenticates HTTP requests. Each client carries its own
// signed token; the user behind it is loaded from users/{uid} on every
// request, independently of the process's current session.
type AuthService struct {
	tokens domain.TokenIssuer
	store  domain.DocumentStore
}

// NewAuthService creates a new AuthService.
func NewAuthService(tokens domain.TokenIssuer, store domain.DocumentStore) *AuthService {
	return &AuthService{tokens: tokens, store: store}
}

// IssueToken returns a signed token for user.
func (s *AuthService) IssueToken(user *domain.User) (string, error) {
	token, err := s.tokens.IssueToken(&domain.Identity{UID: user.ID, Email: user.Email})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// Authenticate validates token and loads the profile it names. A missing
// profile means the account was removed and is reported as
// domain.ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	identity, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}

	raw, err := s.store.ReadOnce(ctx, domain.Path(domain.UsersPath, identity.UID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return decodeProfile(raw, identity)
}
