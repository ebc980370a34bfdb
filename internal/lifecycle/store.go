package lifecycle

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/patternd/internal/detection"
)

// PatternFilter narrows List results.
type PatternFilter struct {
	MinConfidence   float64
	MinImpact       float64
	IncludeArchived bool
	// Type limits results to one pattern type when set.
	Type detection.PatternType
}

// Matches reports whether p passes the filter.
func (f PatternFilter) Matches(p *DiscoveredPattern) bool {
	if !f.IncludeArchived && p.Status != StatusActive {
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	return p.Confidence >= f.MinConfidence && p.ImpactScore >= f.MinImpact
}

// PatternStore persists discovered patterns.
//
// Every call is atomic. Implementations return copies; callers never share
// memory with the store.
type PatternStore interface {
	// Create inserts p unless an active pattern with the same user, type and
	// rule key exists, in which case it returns that pattern's ID and false.
	Create(ctx context.Context, p *DiscoveredPattern) (id string, created bool, err error)

	// Get returns the pattern or ErrPatternNotFound.
	Get(ctx context.Context, id string) (*DiscoveredPattern, error)

	// List returns the user's patterns passing filter, ordered by impact
	// score descending then creation time.
	List(ctx context.Context, userID string, filter PatternFilter) ([]DiscoveredPattern, error)

	// Update performs an atomic read-modify-write. If fn returns an error
	// nothing is written.
	Update(ctx context.Context, id string, fn func(p *DiscoveredPattern) error) (*DiscoveredPattern, error)

	// ApplyEvidence atomically drops evidence whose ID was already applied
	// to the pattern, calls fn with the rest, saves the pattern and records
	// the new evidence IDs.
	ApplyEvidence(ctx context.Context, id string, evidence []Evidence, fn func(p *DiscoveredPattern, fresh []Evidence) error) (*DiscoveredPattern, error)
}

// InMemoryPatternStore is an in-memory PatternStore for tests and local runs.
type InMemoryPatternStore struct {
	mu       sync.RWMutex
	patterns map[string]*DiscoveredPattern
	applied  map[string]map[string]bool // patternID -> evidenceID set
}

// NewInMemoryPatternStore creates an empty store.
func NewInMemoryPatternStore() *InMemoryPatternStore {
	return &InMemoryPatternStore{
		patterns: make(map[string]*DiscoveredPattern),
		applied:  make(map[string]map[string]bool),
	}
}

// Create implements PatternStore.
func (s *InMemoryPatternStore) Create(ctx context.Context, p *DiscoveredPattern) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.patterns {
		if existing.UserID == p.UserID && existing.Type == p.Type &&
			existing.RuleKey == p.RuleKey && existing.Status == StatusActive {
			return existing.ID, false, nil
		}
	}
	s.patterns[p.ID] = p.Clone()
	return p.ID, true, nil
}

// Get implements PatternStore.
func (s *InMemoryPatternStore) Get(ctx context.Context, id string) (*DiscoveredPattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, ErrPatternNotFound
	}
	return p.Clone(), nil
}

// List implements PatternStore.
func (s *InMemoryPatternStore) List(ctx context.Context, userID string, filter PatternFilter) ([]DiscoveredPattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []DiscoveredPattern{}
	for _, p := range s.patterns {
		if p.UserID == userID && filter.Matches(p) {
			result = append(result, *p.Clone())
		}
	}
	SortByImpact(result)
	return result, nil
}

// Update implements PatternStore.
func (s *InMemoryPatternStore) Update(ctx context.Context, id string, fn func(p *DiscoveredPattern) error) (*DiscoveredPattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.patterns[id]
	if !ok {
		return nil, ErrPatternNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.patterns[id] = next
	return next.Clone(), nil
}

// ApplyEvidence implements PatternStore.
func (s *InMemoryPatternStore) ApplyEvidence(ctx context.Context, id string, evidence []Evidence, fn func(p *DiscoveredPattern, fresh []Evidence) error) (*DiscoveredPattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.patterns[id]
	if !ok {
		return nil, ErrPatternNotFound
	}
	seen := s.applied[id]
	fresh := make([]Evidence, 0, len(evidence))
	batch := make(map[string]bool, len(evidence))
	for _, e := range evidence {
		if seen[e.ID] || batch[e.ID] {
			continue
		}
		batch[e.ID] = true
		fresh = append(fresh, e)
	}

	next := current.Clone()
	if err := fn(next, fresh); err != nil {
		return nil, err
	}
	s.patterns[id] = next
	if seen == nil {
		seen = make(map[string]bool, len(fresh))
		s.applied[id] = seen
	}
	for _, e := range fresh {
		seen[e.ID] = true
	}
	return next.Clone(), nil
}

// SortByImpact orders patterns by impact descending, then by creation time
// and ID so results are stable.
func SortByImpact(patterns []DiscoveredPattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].ImpactScore != patterns[j].ImpactScore {
			return patterns[i].ImpactScore > patterns[j].ImpactScore
		}
		if !patterns[i].CreatedAt.Equal(patterns[j].CreatedAt) {
			return patterns[i].CreatedAt.Before(patterns[j].CreatedAt)
		}
		return patterns[i].ID < patterns[j].ID
	})
}
