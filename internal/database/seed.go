package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/timzhangherenow/product-contextualizer/internal/config"
	"github.com/timzhangherenow/product-contextualizer/internal/models"
)

// Seed inserts the admin account and two demo users on the first boot. It is
// a no-op once any user exists, so operator edits survive restarts.
func Seed(ctx context.Context, db *sql.DB, cfg config.Config) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	adminName := strings.Split(cfg.AdminEmail, "@")[0] + " (Admin)"
	defaults := []models.User{
		{ID: "admin-user", Email: cfg.AdminEmail, Name: adminName, Balance: cfg.AdminStartingBalance},
		{ID: "demo-user-1", Email: "alice@example.com", Name: "Alice Designer", Balance: 3},
		{ID: "demo-user-2", Email: "bob@example.com", Name: "Bob Marketer", Balance: 0},
	}

	const query = `
INSERT INTO users (id, email, name, avatar, balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	for _, u := range defaults {
		if _, err := db.ExecContext(ctx, query, u.ID, u.Email, u.Name, models.AvatarURL(u.Email), u.Balance, now, now); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	return nil
}
