package surfacing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/logging"
)

// MinConfidence is the confidence below which patterns are never raised.
const MinConfidence = lifecycle.ArchiveThreshold

// TimezoneSource resolves a user's IANA timezone.
type TimezoneSource interface {
	GetUserTimezone(ctx context.Context, userID string) (string, error)
}

// Service loads a user's patterns and recent events, picks the pattern to
// surface and records that it was shown.
type Service struct {
	manager *lifecycle.Manager
	events  health.EventStore
	zones   TimezoneSource
	scorer  *Scorer
	logger  *logging.Logger
}

// NewService creates a surfacing service. zones may be nil, in which case
// every user is treated as UTC.
func NewService(manager *lifecycle.Manager, events health.EventStore, zones TimezoneSource, scorer *Scorer, logger *logging.Logger) (*Service, error) {
	if manager == nil {
		return nil, errors.New("pattern manager is required")
	}
	if events == nil {
		return nil, errors.New("event store is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if scorer == nil {
		scorer = NewScorer(logger.Underlying())
	}
	return &Service{manager: manager, events: events, zones: zones, scorer: scorer, logger: logger}, nil
}

// Surface picks the most relevant pattern for the user's message at now
// and marks it surfaced. It returns false when nothing qualifies.
func (s *Service) Surface(ctx context.Context, userID, msg string, now time.Time) (Decision, bool, error) {
	if userID == "" {
		return Decision{}, false, lifecycle.ErrEmptyUserID
	}
	ctx = logging.WithUserID(ctx, userID)
	patterns, err := s.manager.GetPatterns(ctx, userID, MinConfidence, 0, false)
	if err != nil {
		return Decision{}, false, fmt.Errorf("loading patterns: %w", err)
	}
	if len(patterns) == 0 {
		return Decision{}, false, nil
	}
	recent, err := s.events.GetHealthEvents(ctx, userID, now.Add(-RecentWindow), now)
	if err != nil {
		return Decision{}, false, fmt.Errorf("loading recent events: %w", err)
	}

	d, ok := s.scorer.Best(patterns, Context{
		Message:      msg,
		RecentEvents: recent,
		Now:          now,
		Location:     s.location(ctx, userID),
	})
	if !ok {
		return Decision{}, false, nil
	}
	if err := s.manager.MarkSurfaced(ctx, userID, d.PatternID, now); err != nil {
		return Decision{}, false, fmt.Errorf("marking pattern surfaced: %w", err)
	}
	s.logger.Info(ctx, "pattern surfaced",
		zap.String("pattern_id", d.PatternID),
		zap.Float64("score", d.Score))
	return d, true, nil
}

func (s *Service) location(ctx context.Context, userID string) *time.Location {
	if s.zones == nil {
		return time.UTC
	}
	name, err := s.zones.GetUserTimezone(ctx, userID)
	if err != nil {
		s.logger.Debug(ctx, "no timezone for user, using UTC", zap.Error(err))
		return time.UTC
	}
	loc, _ := detection.LoadLocation(name)
	return loc
}
