// Package mining runs pattern discovery for users: the Miner executes one
// user's cycle, the Scheduler fires it nightly at each user's local run hour.
package mining

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/insight"
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/mining"

// Config holds mining parameters.
type Config struct {
	// WindowDays is the analysis window ending now.
	WindowDays int
	// MinEvents is the number of events below which a user is skipped.
	MinEvents int
	// ReevaluationDays is the window replayed against existing patterns.
	ReevaluationDays int
	// ReevaluationMinConfidence selects the active patterns to re-evaluate.
	ReevaluationMinConfidence float64

	// RunHour is the local hour (0-23) at which a user's cycle fires.
	RunHour int
	// Workers bounds concurrent user cycles.
	Workers int
	// UserTimeout bounds one user's cycle.
	UserTimeout time.Duration
	// Tick is how often the scheduler checks for due users.
	Tick time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		WindowDays:                90,
		MinEvents:                 50,
		ReevaluationDays:          7,
		ReevaluationMinConfidence: 0.30,
		RunHour:                   3,
		Workers:                   4,
		UserTimeout:               5 * time.Minute,
		Tick:                      time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.WindowDays <= 0 {
		return errors.New("window days must be positive")
	}
	if c.MinEvents < 0 {
		return errors.New("min events cannot be negative")
	}
	if c.ReevaluationDays <= 0 {
		return errors.New("reevaluation days must be positive")
	}
	if c.ReevaluationMinConfidence < 0 || c.ReevaluationMinConfidence > 1 {
		return errors.New("reevaluation min confidence must be in [0, 1]")
	}
	if c.RunHour < 0 || c.RunHour > 23 {
		return fmt.Errorf("run hour must be in [0, 23], got %d", c.RunHour)
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.UserTimeout <= 0 {
		return errors.New("user timeout must be positive")
	}
	if c.Tick <= 0 {
		return errors.New("tick must be positive")
	}
	return nil
}

// CycleSummary reports one user's mining cycle.
type CycleSummary struct {
	UserID           string        `json:"user"`
	EventsAnalyzed   int           `json:"events_analyzed"`
	NewPatterns      int           `json:"new_patterns"`
	UpdatedPatterns  int           `json:"updated_patterns"`
	ArchivedPatterns int           `json:"archived_patterns"`
	Skipped          bool          `json:"skipped"`
	Duration         time.Duration `json:"-"`
	DurationSeconds  float64       `json:"duration_seconds"`
}

// DetectorFactory builds the detectors for a user's timezone.
type DetectorFactory func(loc *time.Location) ([]detection.Detector, error)

// Miner runs mining cycles. It holds no per-user state, so one Miner can
// serve concurrent cycles for different users.
type Miner struct {
	events    health.EventStore
	manager   *lifecycle.Manager
	users     UserDirectory
	detectors DetectorFactory
	cfg       Config
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// MinerOption configures a Miner.
type MinerOption func(*Miner)

// WithUserDirectory sets where user timezones are read from. Without one
// every user is mined in UTC.
func WithUserDirectory(d UserDirectory) MinerOption {
	return func(m *Miner) {
		m.users = d
	}
}

// WithDetectors replaces the default detector set.
func WithDetectors(f DetectorFactory) MinerOption {
	return func(m *Miner) {
		m.detectors = f
	}
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) MinerOption {
	return func(m *Miner) {
		m.cfg = cfg
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) MinerOption {
	return func(m *Miner) {
		m.now = now
	}
}

// WithTracerProvider sets the provider cycle spans are started from.
func WithTracerProvider(tp trace.TracerProvider) MinerOption {
	return func(m *Miner) {
		m.tracer = tp.Tracer(instrumentationName)
	}
}

// NewMiner creates a Miner.
func NewMiner(events health.EventStore, manager *lifecycle.Manager, logger *logging.Logger, opts ...MinerOption) (*Miner, error) {
	if events == nil {
		return nil, errors.New("event store is required")
	}
	if manager == nil {
		return nil, errors.New("pattern manager is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	m := &Miner{
		events:    events,
		manager:   manager,
		detectors: detection.DefaultDetectors,
		cfg:       DefaultConfig(),
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mining config: %w", err)
	}
	return m, nil
}

// RunCycle runs one full mining cycle for a user: fetch the analysis
// window, detect, persist new candidates, then re-evaluate existing
// patterns against the most recent days. A user with too few events is
// skipped without error.
//
// Log entries carry the user and run IDs; a run ID already on ctx is kept,
// otherwise one is generated.
func (m *Miner) RunCycle(ctx context.Context, userID string) (summary CycleSummary, err error) {
	if userID == "" {
		return CycleSummary{}, lifecycle.ErrEmptyUserID
	}
	started := time.Now()
	summary.UserID = userID

	ctx = logging.WithUserID(ctx, userID)
	runID := logging.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logging.WithRunID(ctx, runID)
	}

	ctx, span := m.tracer.Start(ctx, "mining.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("run_id", runID))

	met := getMetrics()
	defer func() {
		summary.Duration = time.Since(started)
		summary.DurationSeconds = summary.Duration.Seconds()
		met.cycleDuration.Observe(summary.DurationSeconds)
		switch {
		case err != nil:
			met.cycles.WithLabelValues(OutcomeFailure).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case summary.Skipped:
			met.cycles.WithLabelValues(OutcomeSkipped).Inc()
		default:
			met.cycles.WithLabelValues(OutcomeSuccess).Inc()
		}
	}()

	loc := m.location(ctx, userID)
	now := m.now().UTC()
	window := detection.Window{Start: now.AddDate(0, 0, -m.cfg.WindowDays), End: now}

	events, err := m.events.GetHealthEvents(ctx, userID, window.Start, window.End)
	if err != nil {
		return summary, fmt.Errorf("fetching events: %w", err)
	}
	summary.EventsAnalyzed = len(events)
	span.SetAttributes(attribute.Int("events_analyzed", len(events)))

	if len(events) < m.cfg.MinEvents {
		summary.Skipped = true
		m.logger.Debug(ctx, "skipping user with too few events",
			zap.Int("events", len(events)),
			zap.Int("min_events", m.cfg.MinEvents))
		return summary, nil
	}

	candidates, err := m.detect(ctx, events, window, loc)
	if err != nil {
		return summary, err
	}

	created := make(map[string]bool)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		impact := insight.ImpactScore(c)
		m.logger.Trace(ctx, "candidate detected",
			zap.String("pattern_type", string(c.Type)),
			zap.String("rule_key", c.Rule.Key()),
			zap.Float64("confidence", c.Confidence),
			zap.Float64("p_value", c.PValue),
			zap.Float64("impact_score", impact))
		text := insight.ActionableInsight(c, impact)
		id, isNew, err := m.manager.SavePattern(ctx, userID, c, impact, text)
		if err != nil {
			met.persistFailures.Inc()
			m.logger.Warn(ctx, "failed to persist candidate",
				zap.String("pattern_type", string(c.Type)),
				zap.String("rule_key", c.Rule.Key()),
				zap.Error(err))
			continue
		}
		if isNew {
			created[id] = true
			summary.NewPatterns++
			met.discovered.WithLabelValues(string(c.Type)).Inc()
		}
	}

	if err := m.reevaluate(ctx, userID, events, now, created, &summary); err != nil {
		return summary, err
	}

	span.SetAttributes(
		attribute.Int("new_patterns", summary.NewPatterns),
		attribute.Int("updated_patterns", summary.UpdatedPatterns),
		attribute.Int("archived_patterns", summary.ArchivedPatterns),
	)
	m.logger.Info(ctx, "mining cycle completed",
		zap.Int("events_analyzed", summary.EventsAnalyzed),
		zap.Int("new_patterns", summary.NewPatterns),
		zap.Int("updated_patterns", summary.UpdatedPatterns),
		zap.Int("archived_patterns", summary.ArchivedPatterns),
		zap.Duration("duration", time.Since(started)))
	return summary, nil
}

// detect runs every detector concurrently. Results keep detector order.
func (m *Miner) detect(ctx context.Context, events []health.Event, window detection.Window, loc *time.Location) ([]detection.Candidate, error) {
	detectors, err := m.detectors(loc)
	if err != nil {
		return nil, fmt.Errorf("building detectors: %w", err)
	}

	results := make([][]detection.Candidate, len(detectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range detectors {
		g.Go(func() error {
			found, err := d.Detect(gctx, events, window)
			if err != nil {
				return fmt.Errorf("%s detection: %w", d.Type(), err)
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []detection.Candidate
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// reevaluate replays the recent window against active patterns above the
// re-evaluation floor. Patterns created in this cycle are left alone.
func (m *Miner) reevaluate(ctx context.Context, userID string, events []health.Event, now time.Time, created map[string]bool, summary *CycleSummary) error {
	patterns, err := m.manager.GetPatterns(ctx, userID, m.cfg.ReevaluationMinConfidence, 0, false)
	if err != nil {
		return fmt.Errorf("listing patterns: %w", err)
	}

	start := now.AddDate(0, 0, -m.cfg.ReevaluationDays)
	recent := health.Between(events, start, now)
	met := getMetrics()

	for _, p := range patterns {
		if created[p.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		evidence, err := m.manager.EvaluateAgainstEvents(ctx, p.ID, recent, start, now)
		if err != nil {
			return fmt.Errorf("evaluating pattern %s: %w", p.ID, err)
		}
		if len(evidence) == 0 {
			continue
		}
		update, err := m.manager.UpdateConfidence(ctx, p.ID, evidence)
		if err != nil {
			return fmt.Errorf("updating pattern %s: %w", p.ID, err)
		}
		if update.Applied > 0 {
			summary.UpdatedPatterns++
		}
		if update.Archived {
			summary.ArchivedPatterns++
			met.archived.Inc()
		}
	}
	return nil
}

// location reads the user's timezone fresh, falling back to UTC.
func (m *Miner) location(ctx context.Context, userID string) *time.Location {
	if m.users == nil {
		return time.UTC
	}
	name, err := m.users.GetUserTimezone(ctx, userID)
	if err != nil {
		m.logger.Warn(ctx, "failed to read user timezone, using UTC", zap.Error(err))
		return time.UTC
	}
	loc, err := detection.LoadLocation(name)
	if err != nil {
		m.logger.Warn(ctx, "unknown user timezone, using UTC",
			zap.String("timezone", name),
			zap.Error(err))
	}
	return loc
}
