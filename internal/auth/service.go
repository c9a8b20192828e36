package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/privadome/privadome-api/internal/platform/httpx"
	"github.com/privadome/privadome-api/internal/users"
)

var (
	// ErrInvalidCredential is returned for unknown token keys.
	ErrInvalidCredential = httpx.Unauthorized("Invalid token.")
	// ErrInactiveUser is returned when the token's user is gone or disabled.
	ErrInactiveUser = httpx.Unauthorized("User inactive or deleted.")
	// ErrCredentialExpired is returned once a token outlives TokenValidity.
	ErrCredentialExpired = httpx.Unauthorized("Token has expired")
	// ErrLoginFailed is returned for any rejected username/password pair.
	ErrLoginFailed = httpx.Validation("Unable to log in with provided credentials.")
)

// UserLookup is the subset of the user repository used for authentication.
type UserLookup interface {
	Get(ctx context.Context, id int64) (*users.User, error)
	GetByUsername(ctx context.Context, username string) (*users.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	users  UserLookup
	tokens TokenStore
	now    Clock
	logger *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.now = c
		}
	}
}

// NewService constructs a new Service.
func NewService(lookup UserLookup, tokens TokenStore, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{users: lookup, tokens: tokens, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate resolves a token key to its principal without mutating it.
func (s *Service) Authenticate(ctx context.Context, key string) (*Principal, error) {
	tok, err := s.tokens.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	user, err := s.users.Get(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrInactiveUser
		}
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	if tok.Age(s.now()) > TokenValidity {
		return nil, ErrCredentialExpired
	}
	return &Principal{User: user, Token: *tok}, nil
}

// ObtainToken verifies credentials and returns the key the caller should
// use, issuing or rotating it as needed.
func (s *Service) ObtainToken(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetByUsername(ctx, users.NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return "", ErrLoginFailed
		}
		return "", fmt.Errorf("auth: load user: %w", err)
	}
	if !user.CheckPassword(password) || !user.IsActive {
		return "", ErrLoginFailed
	}
	tok, err := s.tokens.Obtain(ctx, user.ID, s.now(), TokenRotateAfter)
	if err != nil {
		return "", err
	}
	s.logger.Info("token obtained", slog.Int64("user_id", user.ID))
	return tok.Key, nil
}

// RevokeUser drops the user's token.
func (s *Service) RevokeUser(ctx context.Context, userID int64) error {
	return s.tokens.RevokeUser(ctx, userID)
}
