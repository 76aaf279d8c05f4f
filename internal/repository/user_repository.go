package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/timzhangherenow/product-contextualizer/internal/models"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidBalance      = errors.New("balance must be a non-negative integer")
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `
SELECT id, email, name, avatar, balance, created_at, updated_at
FROM users WHERE id = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// FindByEmail returns (nil, nil) when no user exists with the email; the
// login flow uses the miss to create the record.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `
SELECT id, email, name, avatar, balance, created_at, updated_at
FROM users WHERE email = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (id, email, name, avatar, balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.Avatar, user.Balance, user.CreatedAt, user.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	const query = `
SELECT id, email, name, avatar, balance, created_at, updated_at
FROM users ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Debit decrements the balance by exactly 1, but only while it is positive.
// The conditional UPDATE is the single atomic read-then-write, so concurrent
// debits for the same user cannot take the balance below zero.
func (r *UserRepository) Debit(ctx context.Context, userID string) (*models.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback()

	const query = `
UPDATE users SET balance = balance - 1, updated_at = ?
WHERE id = ? AND balance > 0`
	res, err := tx.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		var balance int
		err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		return nil, ErrInsufficientBalance
	}

	user, err := findByIDTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit debit: %w", err)
	}
	return user, nil
}

// SetBalance is the administrative override: an unconditional overwrite with
// any non-negative integer, unrelated to the prior balance.
func (r *UserRepository) SetBalance(ctx context.Context, userID string, balance int) (*models.User, error) {
	if balance < 0 {
		return nil, ErrInvalidBalance
	}

	const query = `UPDATE users SET balance = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, balance, time.Now().UTC(), userID)
	if err != nil {
		return nil, fmt.Errorf("set balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("set balance rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrUserNotFound
	}
	return r.FindByID(ctx, userID)
}

func findByIDTx(ctx context.Context, tx *sql.Tx, id string) (*models.User, error) {
	const query = `
SELECT id, email, name, avatar, balance, created_at, updated_at
FROM users WHERE id = ?`
	u, err := scanUser(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Avatar, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
