package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/stats"
)

// Feedback prompt thresholds.
const (
	FeedbackMinConfidence = 0.70
	FeedbackMinImpact     = 50.0
	FeedbackMaxPrior      = 3
	DefaultFeedbackLimit  = 5
)

// evidenceNamespace seeds deterministic evidence IDs.
var evidenceNamespace = uuid.MustParse("6f1c2a8e-3b7d-5e0f-9a41-2c8d7b3e5f10")

// Publisher receives lifecycle transitions. Implementations must not block
// for long; errors are logged and never fail the calling operation.
type Publisher interface {
	PatternDiscovered(ctx context.Context, p *DiscoveredPattern) error
	PatternArchived(ctx context.Context, p *DiscoveredPattern) error
}

type nopPublisher struct{}

func (nopPublisher) PatternDiscovered(context.Context, *DiscoveredPattern) error { return nil }
func (nopPublisher) PatternArchived(context.Context, *DiscoveredPattern) error   { return nil }

// Manager owns pattern creation, confidence updates and archival.
type Manager struct {
	store     PatternStore
	publisher Publisher
	logger    *logging.Logger
	now       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p Publisher) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over store.
func NewManager(store PatternStore, logger *logging.Logger, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("pattern store cannot be nil")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		store:     store,
		publisher: nopPublisher{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SavePattern persists a candidate as an active pattern and returns its ID.
//
// The candidate must be significant and meet its type's minimum occurrences.
// If an active pattern with the same rule already exists for the user, its
// ID is returned with created=false and nothing is written.
func (m *Manager) SavePattern(ctx context.Context, userID string, c detection.Candidate, impact float64, insight string) (string, bool, error) {
	if userID == "" {
		return "", false, ErrEmptyUserID
	}
	if err := c.Validate(); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	if impact < 0 || impact > 100 {
		return "", false, fmt.Errorf("%w: impact score %v", ErrInvalidCandidate, impact)
	}
	if !stats.IsSignificant(c.PValue, stats.DefaultAlpha) {
		return "", false, fmt.Errorf("%w: p=%.4f", ErrInsignificant, c.PValue)
	}
	if minOcc := detection.MinimumOccurrences(c.Type); c.Occurrences < minOcc {
		return "", false, fmt.Errorf("%w: %d < %d", ErrBelowMinimumOccurrences, c.Occurrences, minOcc)
	}

	ctx = logging.WithUserID(ctx, userID)
	p := NewDiscoveredPattern(userID, c, impact, insight, m.now().UTC())
	id, created, err := m.store.Create(ctx, p)
	if err != nil {
		return "", false, fmt.Errorf("saving pattern: %w", err)
	}
	if !created {
		m.logger.Debug(ctx, "pattern already active",
			zap.String("pattern_id", id),
			zap.String("rule_key", p.RuleKey))
		return id, false, nil
	}

	m.logger.Info(ctx, "pattern discovered",
		zap.String("pattern_id", id),
		zap.String("pattern_type", string(p.Type)),
		zap.Float64("confidence", p.Confidence),
		zap.Float64("impact_score", p.ImpactScore))

	if err := m.publisher.PatternDiscovered(ctx, p); err != nil {
		m.logger.Warn(ctx, "failed to publish pattern discovered", zap.String("pattern_id", id), zap.Error(err))
	}
	return id, true, nil
}

// GetPatterns returns the user's patterns with confidence >= minConfidence
// and impact >= minImpact, highest impact first. Archived patterns are
// included only on request.
func (m *Manager) GetPatterns(ctx context.Context, userID string, minConfidence, minImpact float64, includeArchived bool) ([]DiscoveredPattern, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	return m.store.List(ctx, userID, PatternFilter{
		MinConfidence:   minConfidence,
		MinImpact:       minImpact,
		IncludeArchived: includeArchived,
	})
}

// GetPattern returns one of the user's patterns. A pattern owned by someone
// else is reported as not found.
func (m *Manager) GetPattern(ctx context.Context, userID, patternID string) (*DiscoveredPattern, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if patternID == "" {
		return nil, ErrEmptyPatternID
	}
	p, err := m.store.Get(ctx, patternID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrPatternNotFound
	}
	return p, nil
}

// EvaluateAgainstEvents replays the pattern's rule over events in
// [start, end] and returns one Evidence per hit or miss. Evidence IDs are
// derived from the pattern and the replayed instance, so overlapping
// windows produce the same IDs and are only counted once.
func (m *Manager) EvaluateAgainstEvents(ctx context.Context, patternID string, events []health.Event, start, end time.Time) ([]Evidence, error) {
	if patternID == "" {
		return nil, ErrEmptyPatternID
	}
	p, err := m.store.Get(ctx, patternID)
	if err != nil {
		return nil, err
	}

	observations := p.Rule.Replay(events, start, end)
	evidence := make([]Evidence, 0, len(observations))
	for _, o := range observations {
		t := EvidenceNegative
		if o.Positive {
			t = EvidencePositive
		}
		evidence = append(evidence, Evidence{
			ID:        EvidenceID(patternID, o.Anchor),
			Timestamp: o.Timestamp,
			Type:      t,
			Source:    SourceReplay,
			Context:   o.Context,
		})
	}
	return evidence, nil
}

// EvidenceID derives the stable ID of replayed evidence.
func EvidenceID(patternID, anchor string) string {
	return uuid.NewSHA1(evidenceNamespace, []byte(patternID+"|"+anchor)).String()
}

// UpdateConfidence applies evidence to the pattern. Evidence already applied
// is skipped. If confidence drops below ArchiveThreshold the pattern is
// archived in the same write.
func (m *Manager) UpdateConfidence(ctx context.Context, patternID string, evidence []Evidence) (ConfidenceUpdate, error) {
	return m.applyEvidence(ctx, patternID, evidence, nil)
}

func (m *Manager) applyEvidence(ctx context.Context, patternID string, evidence []Evidence, extra func(p *DiscoveredPattern)) (ConfidenceUpdate, error) {
	if patternID == "" {
		return ConfidenceUpdate{}, ErrEmptyPatternID
	}
	for _, e := range evidence {
		if err := e.Validate(); err != nil {
			return ConfidenceUpdate{}, err
		}
	}

	var update ConfidenceUpdate
	now := m.now().UTC()
	p, err := m.store.ApplyEvidence(ctx, patternID, evidence, func(p *DiscoveredPattern, fresh []Evidence) error {
		update.PatternID = p.ID
		update.OldConfidence = p.Confidence
		update.Applied = len(fresh)
		update.Archived = apply(p, fresh)
		if extra != nil {
			extra(p)
		}
		p.Metadata.LastEvaluatedAt = &now
		if len(fresh) > 0 {
			p.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return ConfidenceUpdate{}, err
	}
	update.NewConfidence = p.Confidence
	update.EvidenceSummary = p.EvidenceSummary

	if update.Archived {
		ctx = logging.WithUserID(ctx, p.UserID)
		m.logger.Info(ctx, "pattern archived",
			zap.String("pattern_id", p.ID),
			zap.Float64("confidence", p.Confidence))
		if err := m.publisher.PatternArchived(ctx, p); err != nil {
			m.logger.Warn(ctx, "failed to publish pattern archived", zap.String("pattern_id", p.ID), zap.Error(err))
		}
	}
	return update, nil
}

// SubmitFeedback records helpful/not-helpful feedback from the pattern's
// owner as evidence. After FeedbackTransparencyThreshold feedback events
// the pattern is flagged as adjusted from feedback.
func (m *Manager) SubmitFeedback(ctx context.Context, userID, patternID string, helpful bool, comment string) (FeedbackResult, error) {
	if _, err := m.GetPattern(ctx, userID, patternID); err != nil {
		return FeedbackResult{}, err
	}

	t := EvidenceNegative
	if helpful {
		t = EvidencePositive
	}
	if comment == "" {
		comment = "user feedback"
	}
	ev := Evidence{
		ID:        uuid.New().String(),
		Timestamp: m.now().UTC(),
		Type:      t,
		Source:    SourceFeedback,
		Context:   comment,
	}

	var adjusted bool
	var status Status
	update, err := m.applyEvidence(ctx, patternID, []Evidence{ev}, func(p *DiscoveredPattern) {
		p.Metadata.FeedbackCount++
		if helpful {
			p.Metadata.HelpfulCount++
		}
		if p.Metadata.FeedbackCount >= FeedbackTransparencyThreshold {
			p.Metadata.AdjustedFromFeedback = true
		}
		adjusted = p.Metadata.AdjustedFromFeedback
		status = p.Status
	})
	if err != nil {
		return FeedbackResult{}, err
	}

	m.logger.Info(logging.WithUserID(ctx, userID), "pattern feedback recorded",
		zap.String("pattern_id", patternID),
		zap.Bool("helpful", helpful),
		zap.Float64("new_confidence", update.NewConfidence))

	return FeedbackResult{
		PatternID:            patternID,
		NewConfidence:        update.NewConfidence,
		Status:               status,
		AdjustedFromFeedback: adjusted,
	}, nil
}

// GetPatternsNeedingFeedback returns active, high-confidence, high-impact
// patterns with little prior feedback, highest impact first.
func (m *Manager) GetPatternsNeedingFeedback(ctx context.Context, userID string, limit int) ([]PatternSummary, error) {
	if limit <= 0 {
		limit = DefaultFeedbackLimit
	}
	patterns, err := m.GetPatterns(ctx, userID, FeedbackMinConfidence, FeedbackMinImpact, false)
	if err != nil {
		return nil, err
	}

	out := make([]PatternSummary, 0, limit)
	for i := range patterns {
		if patterns[i].Metadata.FeedbackCount >= FeedbackMaxPrior {
			continue
		}
		out = append(out, patterns[i].Summary())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSurfaced records that the pattern was shown to its owner at at.
func (m *Manager) MarkSurfaced(ctx context.Context, userID, patternID string, at time.Time) error {
	if _, err := m.GetPattern(ctx, userID, patternID); err != nil {
		return err
	}
	_, err := m.store.Update(ctx, patternID, func(p *DiscoveredPattern) error {
		t := at.UTC()
		p.Metadata.LastSurfacedAt = &t
		p.Metadata.SurfaceCount++
		return nil
	})
	return err
}

// IsNotFound reports whether err is ErrPatternNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPatternNotFound)
}
