package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/privadome/privadome-api/internal/platform/httpx"
	"github.com/privadome/privadome-api/internal/rbac"
)

var (
	// ErrBadRequest is returned when a create request lacks a field.
	ErrBadRequest = httpx.Validation("Bad request")
	// ErrInvalidEmail is returned for malformed addresses.
	ErrInvalidEmail = httpx.Validation("Enter a valid email address.")
	// ErrInvalidUsername is returned for blank or oversized usernames.
	ErrInvalidUsername = httpx.Validation("Enter a valid username.")
	// ErrIncorrectPassword is returned when the supplied current password does not match.
	ErrIncorrectPassword = httpx.Forbidden("Incorrect password")
	// ErrPasswordNotProvided is returned when an update omits the current password.
	ErrPasswordNotProvided = httpx.Forbidden("Password not provided")
)

// TokenRevoker drops the credential bound to a user.
type TokenRevoker interface {
	RevokeUser(ctx context.Context, userID int64) error
}

// Service handles user business logic.
type Service struct {
	repo     Repository
	tokens   TokenRevoker
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service instance.
func NewService(repo Repository, tokens TokenRevoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, logger: logger, validate: validator.New()}
}

// List returns the accounts visible to actor in creation order.
func (s *Service) List(ctx context.Context, actor rbac.Principal) ([]View, error) {
	if err := rbac.Authorize(actor, rbac.ActionList, 0); err != nil {
		return nil, err
	}
	if !rbac.SeesAll(actor) {
		u, err := s.repo.Get(ctx, actor.GetID())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return []View{}, nil
			}
			return nil, err
		}
		return []View{u.ToView()}, nil
	}
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(all))
	for i := range all {
		views = append(views, all[i].ToView())
	}
	return views, nil
}

// Create adds a regular account on behalf of an admin.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, in CreateInput) (View, error) {
	if err := rbac.Authorize(actor, rbac.ActionCreate, 0); err != nil {
		return View{}, err
	}
	u, err := s.create(ctx, in, false)
	if err != nil {
		return View{}, err
	}
	s.logger.Info("user created", slog.Int64("user_id", u.ID), slog.Int64("actor_id", actor.GetID()))
	return u.ToView(), nil
}

// Bootstrap creates the first superuser. It is a no-op once any account
// exists and reports whether an account was created.
func (s *Service) Bootstrap(ctx context.Context, in CreateInput) (bool, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	u, err := s.create(ctx, in, true)
	if err != nil {
		return false, err
	}
	s.logger.Info("bootstrap superuser created", slog.Int64("user_id", u.ID), slog.String("username", u.Username))
	return true, nil
}

// CreateSuperuser adds an admin account without an acting principal. It
// backs the operator CLI.
func (s *Service) CreateSuperuser(ctx context.Context, in CreateInput) (View, error) {
	u, err := s.create(ctx, in, true)
	if err != nil {
		return View{}, err
	}
	s.logger.Info("superuser created", slog.Int64("user_id", u.ID), slog.String("username", u.Username))
	return u.ToView(), nil
}

func (s *Service) create(ctx context.Context, in CreateInput, superuser bool) (*User, error) {
	in.Username = NormalizeUsername(in.Username)
	in.Email = NormalizeEmail(in.Email)
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}
	u := &User{
		Username:    in.Username,
		Email:       in.Email,
		IsActive:    true,
		IsSuperuser: superuser,
	}
	if err := u.SetPassword(in.Password); err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	return s.repo.Create(ctx, u)
}

func (s *Service) validateCreate(in CreateInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			return ErrBadRequest
		}
	}
	switch fieldErrs[0].Field() {
	case "Email":
		return ErrInvalidEmail
	case "Username":
		return ErrInvalidUsername
	default:
		return ErrBadRequest
	}
}

// Update applies a partial update to the account id. The caller must be
// the owner or an admin, and must always prove the account's current
// password.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, id int64, in UpdateInput) (View, error) {
	if actor == nil {
		return View{}, rbac.ErrNoPrincipal
	}
	updated, err := s.repo.Update(ctx, id, func(u *User) error {
		if err := rbac.Authorize(actor, rbac.ActionUpdate, u.ID); err != nil {
			return err
		}
		if err := s.validateUpdate(&in); err != nil {
			return err
		}
		if in.OldPassword == nil {
			return ErrPasswordNotProvided
		}
		if !u.CheckPassword(*in.OldPassword) {
			return ErrIncorrectPassword
		}
		if in.Email != nil {
			u.Email = *in.Email
		}
		if in.Username != nil {
			u.Username = *in.Username
		}
		if in.NewPassword != nil {
			if err := u.SetPassword(*in.NewPassword); err != nil {
				return fmt.Errorf("users: hash password: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	s.logger.Info("user updated", slog.Int64("user_id", updated.ID), slog.Int64("actor_id", actor.GetID()))
	return updated.ToView(), nil
}

func (s *Service) validateUpdate(in *UpdateInput) error {
	if in.Username != nil {
		name := NormalizeUsername(*in.Username)
		if err := s.validate.Var(name, "required,max=150"); err != nil {
			return ErrInvalidUsername
		}
		in.Username = &name
	}
	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if err := s.validate.Var(email, "required,email,max=254"); err != nil {
			return ErrInvalidEmail
		}
		in.Email = &email
	}
	return nil
}

// Delete removes the account id and revokes its token.
func (s *Service) Delete(ctx context.Context, actor rbac.Principal, id int64) error {
	if actor == nil {
		return rbac.ErrNoPrincipal
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := rbac.Authorize(actor, rbac.ActionDelete, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.tokens != nil {
		if err := s.tokens.RevokeUser(ctx, id); err != nil {
			s.logger.Warn("revoke token after delete", slog.Int64("user_id", id), slog.Any("error", err))
		}
	}
	s.logger.Info("user deleted", slog.Int64("user_id", id), slog.Int64("actor_id", actor.GetID()))
	return nil
}
