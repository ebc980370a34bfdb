package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/health"
)

// AddEvents validates and stores events, returning how many were new.
// Events are immutable: re-adding an existing ID is ignored.
func (s *Store) AddEvents(ctx context.Context, events ...health.Event) (int, error) {
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return 0, fmt.Errorf("event %q: %w", events[i].ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO events (id, user_id, event_type, ts, data)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := range events {
			data, err := json.Marshal(events[i])
			if err != nil {
				return fmt.Errorf("marshal event %q: %w", events[i].ID, err)
			}
			res, err := stmt.ExecContext(ctx, events[i].ID, events[i].UserID, string(events[i].Type),
				events[i].Timestamp.UnixNano(), string(data))
			if err != nil {
				return fmt.Errorf("insert event %q: %w", events[i].ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

// GetHealthEvents implements health.EventStore.
func (s *Store) GetHealthEvents(ctx context.Context, userID string, start, end time.Time, eventTypes ...health.EventType) ([]health.Event, error) {
	if userID == "" {
		return nil, health.ErrEmptyUserID
	}
	if start.After(end) {
		return nil, health.ErrInvalidTimeRange
	}

	query := `SELECT data FROM events WHERE user_id = ? AND ts >= ? AND ts <= ?`
	args := []any{userID, start.UnixNano(), end.UnixNano()}
	if len(eventTypes) > 0 {
		placeholders := make([]string, len(eventTypes))
		for i, t := range eventTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND event_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY ts DESC, id ASC`

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []health.Event{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e health.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events for a user.
func (s *Store) CountEvents(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
