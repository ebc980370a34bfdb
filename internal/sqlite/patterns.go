package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
)

var _ lifecycle.PatternStore = (*Store)(nil)

// Create implements lifecycle.PatternStore.
func (s *Store) Create(ctx context.Context, p *lifecycle.DiscoveredPattern) (string, bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", false, fmt.Errorf("marshal pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := p.ID
	created := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM patterns
			WHERE user_id = ? AND pattern_type = ? AND rule_key = ? AND status = ?
		`, p.UserID, string(p.Type), p.RuleKey, string(lifecycle.StatusActive)).Scan(&existing)
		switch {
		case err == nil:
			id = existing
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check existing pattern: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO patterns (id, user_id, pattern_type, rule_key, status, confidence, impact_score, created_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.UserID, string(p.Type), p.RuleKey, string(p.Status), p.Confidence, p.ImpactScore,
			p.CreatedAt.UnixNano(), string(data))
		if err != nil {
			return fmt.Errorf("insert pattern: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

// Get implements lifecycle.PatternStore.
func (s *Store) Get(ctx context.Context, id string) (*lifecycle.DiscoveredPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadPattern(ctx, s.db, id)
}

// List implements lifecycle.PatternStore.
func (s *Store) List(ctx context.Context, userID string, filter lifecycle.PatternFilter) ([]lifecycle.DiscoveredPattern, error) {
	query := `SELECT data FROM patterns WHERE user_id = ? AND confidence >= ? AND impact_score >= ?`
	args := []any{userID, filter.MinConfidence, filter.MinImpact}
	if !filter.IncludeArchived {
		query += ` AND status = ?`
		args = append(args, string(lifecycle.StatusActive))
	}
	if filter.Type != "" {
		query += ` AND pattern_type = ?`
		args = append(args, string(filter.Type))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	result := []lifecycle.DiscoveredPattern{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		var p lifecycle.DiscoveredPattern
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode pattern: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lifecycle.SortByImpact(result)
	return result, nil
}

// Update implements lifecycle.PatternStore.
func (s *Store) Update(ctx context.Context, id string, fn func(p *lifecycle.DiscoveredPattern) error) (*lifecycle.DiscoveredPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *lifecycle.DiscoveredPattern
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := loadPattern(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := savePattern(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyEvidence implements lifecycle.PatternStore.
func (s *Store) ApplyEvidence(ctx context.Context, id string, evidence []lifecycle.Evidence, fn func(p *lifecycle.DiscoveredPattern, fresh []lifecycle.Evidence) error) (*lifecycle.DiscoveredPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *lifecycle.DiscoveredPattern
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := loadPattern(ctx, tx, id)
		if err != nil {
			return err
		}

		fresh := make([]lifecycle.Evidence, 0, len(evidence))
		batch := make(map[string]bool, len(evidence))
		for _, e := range evidence {
			if batch[e.ID] {
				continue
			}
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM applied_evidence WHERE pattern_id = ? AND evidence_id = ?`, id, e.ID).Scan(&one)
			switch {
			case err == nil:
				continue
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("check evidence: %w", err)
			}
			batch[e.ID] = true
			fresh = append(fresh, e)
		}

		if err := fn(p, fresh); err != nil {
			return err
		}
		if err := savePattern(ctx, tx, p); err != nil {
			return err
		}
		for _, e := range fresh {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO applied_evidence (pattern_id, evidence_id) VALUES (?, ?)`, id, e.ID); err != nil {
				return fmt.Errorf("record evidence: %w", err)
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func loadPattern(ctx context.Context, q querier, id string) (*lifecycle.DiscoveredPattern, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM patterns WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrPatternNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pattern: %w", err)
	}
	var p lifecycle.DiscoveredPattern
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode pattern: %w", err)
	}
	return &p, nil
}

func savePattern(ctx context.Context, q querier, p *lifecycle.DiscoveredPattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		UPDATE patterns
		SET status = ?, confidence = ?, impact_score = ?, data = ?
		WHERE id = ?
	`, string(p.Status), p.Confidence, p.ImpactScore, string(data), p.ID)
	if err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	return nil
}
