package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timzhangherenow/product-contextualizer/internal/config"
	"github.com/timzhangherenow/product-contextualizer/internal/database"
	"github.com/timzhangherenow/product-contextualizer/internal/repository"
)

func newTestUserRepo(t *testing.T) *repository.UserRepository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db))
	return repository.NewUserRepository(db)
}

func newTestUserService(t *testing.T) *UserService {
	t.Helper()
	cfg := config.Config{
		AdminEmail:      "admin@example.com",
		StartingBalance: 5,
	}
	return NewUserService(cfg, newTestUserRepo(t))
}

func TestLogin_CreatesOnFirstSight(t *testing.T) {
	s := newTestUserService(t)

	user, err := s.Login(context.Background(), "new@x.com")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "new", user.Name)
	assert.Equal(t, "new@x.com", user.Email)
	assert.Equal(t, 5, user.Balance)
	assert.Contains(t, user.Avatar, "seed=new%40x.com")
}

func TestLogin_IdempotentByEmail(t *testing.T) {
	s := newTestUserService(t)

	first, err := s.Login(context.Background(), "new@x.com")
	require.NoError(t, err)

	// Drain a credit so the second login provably returns the stored
	// record rather than a fresh one.
	_, err = s.users.Debit(context.Background(), first.ID)
	require.NoError(t, err)

	second, err := s.Login(context.Background(), "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 4, second.Balance)
}

func TestLogin_InvalidEmail(t *testing.T) {
	s := newTestUserService(t)

	for _, email := range []string{"", "   ", "not-an-email"} {
		_, err := s.Login(context.Background(), email)
		assert.ErrorIs(t, err, ErrInvalidEmail, "email %q", email)
	}
}

func TestRefresh(t *testing.T) {
	s := newTestUserService(t)

	user, err := s.Login(context.Background(), "new@x.com")
	require.NoError(t, err)

	fresh, err := s.Refresh(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, fresh.ID)

	_, err = s.Refresh(context.Background(), "gone")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestIsAdmin(t *testing.T) {
	s := newTestUserService(t)

	assert.True(t, s.IsAdmin("admin@example.com"))
	assert.False(t, s.IsAdmin("new@x.com"))
}
