package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/timzhangherenow/product-contextualizer/internal/config"
	"github.com/timzhangherenow/product-contextualizer/internal/models"
	"github.com/timzhangherenow/product-contextualizer/internal/repository"
)

var ErrInvalidEmail = errors.New("a valid email address is required")

// UserService owns identity and session reconciliation: login-or-create by
// email, authoritative re-reads by id, and the admin predicate.
type UserService struct {
	users           *repository.UserRepository
	adminEmail      string
	startingBalance int
}

func NewUserService(cfg config.Config, users *repository.UserRepository) *UserService {
	return &UserService{
		users:           users,
		adminEmail:      cfg.AdminEmail,
		startingBalance: cfg.StartingBalance,
	}
}

// Login looks a user up by email and creates the record on first sight,
// seeded with the starting balance. Repeated calls with the same email
// return the existing record unchanged.
func (s *UserService) Login(ctx context.Context, email string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find by email: %w", err)
	}
	if user != nil {
		return user, nil
	}

	created, err := s.users.Create(ctx, &models.User{
		ID:      uuid.NewString(),
		Email:   email,
		Name:    strings.Split(email, "@")[0],
		Avatar:  models.AvatarURL(email),
		Balance: s.startingBalance,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// Refresh re-reads the authoritative record. Callers holding a cached
// session must treat repository.ErrUserNotFound as a forced logout.
func (s *UserService) Refresh(ctx context.Context, userID string) (*models.User, error) {
	return s.users.FindByID(ctx, userID)
}

// IsAdmin gates elevated UI access only; it has no bearing on ledger rules.
func (s *UserService) IsAdmin(email string) bool {
	return email == s.adminEmail
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
