package service

import (
	"context"
	"fmt"

	"github.com/timzhangherenow/product-contextualizer/internal/models"
	"github.com/timzhangherenow/product-contextualizer/internal/repository"
)

// LedgerService owns per-user credit balances. Every mutating call returns
// the authoritative post-state so callers adopt it rather than computing
// their own copy.
type LedgerService struct {
	users *repository.UserRepository
}

func NewLedgerService(users *repository.UserRepository) *LedgerService {
	return &LedgerService{users: users}
}

func (s *LedgerService) Balance(ctx context.Context, userID string) (int, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return user.Balance, nil
}

// Debit removes exactly one credit. It fails with
// repository.ErrInsufficientBalance when the balance is already zero and
// leaves the record unchanged.
func (s *LedgerService) Debit(ctx context.Context, userID string) (*models.User, error) {
	return s.users.Debit(ctx, userID)
}

// SetBalance is the administrative override, unrelated to the prior value.
// Negative input fails with repository.ErrInvalidBalance.
func (s *LedgerService) SetBalance(ctx context.Context, userID string, balance int) (*models.User, error) {
	return s.users.SetBalance(ctx, userID, balance)
}
