package service

import (
	"context"
	"errors"
	"fmt"

	"chatgraph/internal/domain"
	"chatgraph/internal/security"
)

// AuthService turns identity-provider tokens into users, creating the user on
// first sign-in.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

// Authenticate validates token and returns the user it identifies. Profile
// fields are refreshed from the token when they changed.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	id, err := s.tokens.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	user, err := s.users.GetByID(ctx, id.Subject)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		user = &domain.User{
			ID:    id.Subject,
			Email: optional(id.Email),
			Name:  optional(id.Name),
			Image: optional(id.Picture),
		}
		err = s.users.Create(ctx, user)
		if errors.Is(err, domain.ErrConflict) {
			// Lost a race with a concurrent first request.
			user, err = s.users.GetByID(ctx, id.Subject)
		}
		if err != nil {
			return nil, storeError("create user", err)
		}
		return user, nil
	case err != nil:
		return nil, storeError("get user", err)
	}

	if profileChanged(user, id) {
		user.Email = optional(id.Email)
		user.Name = optional(id.Name)
		user.Image = optional(id.Picture)
		if err := s.users.UpdateProfile(ctx, user); err != nil {
			return nil, storeError("update profile", err)
		}
	}
	return user, nil
}

func profileChanged(u *domain.User, id *security.Identity) bool {
	return value(u.Email) != id.Email || value(u.Name) != id.Name || value(u.Image) != id.Picture
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
