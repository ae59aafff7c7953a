package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"chatgraph/internal/domain"
)

const searchLimit = 20

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

// Me returns the caller's stored profile.
func (s *UserService) Me(ctx context.Context) (*domain.User, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, storeError("get user", err)
	}
	return u, nil
}

// Search finds users whose username contains query, case-insensitively,
// excluding the caller.
func (s *UserService) Search(ctx context.Context, query string) ([]*domain.User, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.User{}, nil
	}
	users, err := s.users.Search(ctx, query, caller.ID, searchLimit)
	if err != nil {
		return nil, storeError("search users", err)
	}
	return users, nil
}

// CreateUsername sets the caller's username. A username can only be set once.
func (s *UserService) CreateUsername(ctx context.Context, username string) error {
	caller, err := currentUser(ctx)
	if err != nil {
		return err
	}

	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-32 letters, digits, '_', '.' or '-'", domain.ErrInvalidInput)
	}

	me, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return storeError("get user", err)
	}
	if me.Username != nil {
		return fmt.Errorf("%w: username already set", domain.ErrConflict)
	}

	existing, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil && existing.ID != caller.ID:
		return fmt.Errorf("%w: username already taken, try another", domain.ErrConflict)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return storeError("get user by username", err)
	}

	if err := s.users.SetUsername(ctx, caller.ID, username); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: username already taken, try another", domain.ErrConflict)
		}
		return storeError("set username", err)
	}
	return nil
}
