package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertUser creates or updates a user directory entry.
func (s *Store) UpsertUser(ctx context.Context, userID, timezone string, active bool) error {
	if userID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if timezone == "" {
		timezone = "UTC"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, timezone, active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET timezone = excluded.timezone, active = excluded.active
	`, userID, timezone, boolToInt(active))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ListActiveUsers returns the IDs of active users in lexical order.
func (s *Store) ListActiveUsers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// GetUserTimezone returns the user's IANA timezone name.
func (s *Store) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tz string
	err := s.db.QueryRowContext(ctx, `SELECT timezone FROM users WHERE id = ?`, userID).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get timezone: %w", err)
	}
	return tz, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
