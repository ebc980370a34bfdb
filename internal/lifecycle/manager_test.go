package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/grouping"
	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/insight"
	"github.com/fyrsmithlabs/patternd/internal/logging"
)

type recordingPublisher struct {
	mu         sync.Mutex
	discovered []string
	archived   []string
}

func (r *recordingPublisher) PatternDiscovered(_ context.Context, p *DiscoveredPattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered = append(r.discovered, p.ID)
	return nil
}

func (r *recordingPublisher) PatternArchived(_ context.Context, p *DiscoveredPattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, p.ID)
	return nil
}

func pastaCandidate(confidence float64, occurrences int, p float64) detection.Candidate {
	return detection.Candidate{
		Type: detection.PatternTemporalCorrelation,
		Rule: detection.Rule{Temporal: &detection.TemporalRule{
			Trigger:  grouping.Characteristic{Type: health.EventMeal, Label: "pasta"},
			Outcome:  grouping.Characteristic{Type: health.EventSymptom, Label: "headache"},
			MinHours: 1,
			MaxHours: 48,
		}},
		Confidence:  confidence,
		Occurrences: occurrences,
		PValue:      p,
	}
}

func newTestManager(t *testing.T) (*Manager, *recordingPublisher, *logging.TestLogger) {
	t.Helper()
	pub := &recordingPublisher{}
	tl := logging.NewTestLogger()
	m, err := NewManager(NewInMemoryPatternStore(), tl.Logger, WithPublisher(pub))
	require.NoError(t, err)
	return m, pub, tl
}

func negatives(n int) []Evidence {
	out := make([]Evidence, n)
	for i := range out {
		out[i] = Evidence{ID: fmt.Sprintf("neg-%d", i), Type: EvidenceNegative, Timestamp: time.Now()}
	}
	return out
}

func TestNewManager_NilStore(t *testing.T) {
	_, err := NewManager(nil, nil)
	assert.Error(t, err)
}

func TestManager_SaveAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, pub, tl := newTestManager(t)

	c := pastaCandidate(0.80, 18, 0.003)
	impact := insight.ImpactScore(c)
	text := insight.ActionableInsight(c, impact)

	id, created, err := m.SavePattern(ctx, "u1", c, impact, text)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id)

	patterns, err := m.GetPatterns(ctx, "u1", 0.50, 0, false)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	got := patterns[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, impact, got.ImpactScore)
	assert.Equal(t, text, got.ActionableInsight)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 18, got.Occurrences)
	assert.Equal(t, []string{id}, pub.discovered)
	tl.AssertLogged(t, zapcore.InfoLevel, "pattern discovered")
}

func TestManager_SavePatternGates(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	_, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.8, 18, 0.05), 50, "x")
	assert.ErrorIs(t, err, ErrInsignificant)

	_, _, err = m.SavePattern(ctx, "u1", pastaCandidate(0.8, 9, 0.01), 50, "x")
	assert.ErrorIs(t, err, ErrBelowMinimumOccurrences)

	_, _, err = m.SavePattern(ctx, "u1", pastaCandidate(1.5, 18, 0.01), 50, "x")
	assert.ErrorIs(t, err, ErrInvalidCandidate)

	_, _, err = m.SavePattern(ctx, "u1", pastaCandidate(0.8, 18, 0.01), 120, "x")
	assert.ErrorIs(t, err, ErrInvalidCandidate)

	_, _, err = m.SavePattern(ctx, "", pastaCandidate(0.8, 18, 0.01), 50, "x")
	assert.ErrorIs(t, err, ErrEmptyUserID)

	seq := detection.Candidate{
		Type:        detection.PatternBehavioralSequence,
		Rule:        detection.Rule{Sequence: &detection.SequenceRule{Steps: []health.EventType{health.EventStress, health.EventSleep}}},
		Confidence:  0.9,
		Occurrences: 5,
		PValue:      0.01,
	}
	_, created, err := m.SavePattern(ctx, "u1", seq, 50, "x")
	require.NoError(t, err)
	assert.True(t, created, "sequences need only 5 occurrences")
}

func TestManager_SavePatternDeduplicatesActive(t *testing.T) {
	ctx := context.Background()
	m, pub, _ := newTestManager(t)

	first, created, err := m.SavePattern(ctx, "u1", pastaCandidate(0.8, 18, 0.003), 60, "x")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := m.SavePattern(ctx, "u1", pastaCandidate(0.9, 20, 0.001), 65, "y")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	other, created, err := m.SavePattern(ctx, "u2", pastaCandidate(0.8, 18, 0.003), 60, "x")
	require.NoError(t, err)
	assert.True(t, created, "dedup is per user")
	assert.NotEqual(t, first, other)
	assert.Len(t, pub.discovered, 2)

	// Archive the first pattern; rediscovery then creates a fresh one.
	_, err = m.UpdateConfidence(ctx, first, negatives(10))
	require.NoError(t, err)

	third, created, err := m.SavePattern(ctx, "u1", pastaCandidate(0.8, 18, 0.003), 60, "x")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first, third)
}

func TestManager_NegativeEvidenceArchives(t *testing.T) {
	ctx := context.Background()
	m, pub, tl := newTestManager(t)

	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.70, 18, 0.003), 60, "x")
	require.NoError(t, err)

	update, err := m.UpdateConfidence(ctx, id, negatives(10))
	require.NoError(t, err)
	assert.Equal(t, 0.70, update.OldConfidence)
	assert.Less(t, update.NewConfidence, ArchiveThreshold)
	assert.True(t, update.Archived)
	assert.Equal(t, 10, update.EvidenceSummary.Negative)
	assert.Equal(t, []string{id}, pub.archived)
	tl.AssertLogged(t, zapcore.InfoLevel, "pattern archived")

	p, err := m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, p.Status)

	active, err := m.GetPatterns(ctx, "u1", 0, 0, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := m.GetPatterns(ctx, "u1", 0, 0, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestManager_ArchiveIsOneWay(t *testing.T) {
	ctx := context.Background()
	m, pub, _ := newTestManager(t)

	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.55, 18, 0.003), 60, "x")
	require.NoError(t, err)
	_, err = m.UpdateConfidence(ctx, id, negatives(1))
	require.NoError(t, err)

	var positives []Evidence
	for i := 0; i < 20; i++ {
		positives = append(positives, Evidence{ID: fmt.Sprintf("pos-%d", i), Type: EvidencePositive})
	}
	update, err := m.UpdateConfidence(ctx, id, positives)
	require.NoError(t, err)
	assert.Greater(t, update.NewConfidence, ArchiveThreshold)
	assert.False(t, update.Archived)

	p, err := m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, p.Status)
	assert.Len(t, pub.archived, 1)
}

func TestManager_PositiveEvidenceIncreasesConfidence(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.70, 18, 0.003), 60, "x")
	require.NoError(t, err)

	update, err := m.UpdateConfidence(ctx, id, []Evidence{{ID: "p1", Type: EvidencePositive}})
	require.NoError(t, err)
	assert.Greater(t, update.NewConfidence, 0.70)
	assert.Less(t, update.NewConfidence, 1.0)
	assert.Equal(t, 1, update.EvidenceSummary.Positive)
}

func TestManager_PositiveEvidenceRaisesCertainCandidate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	// A temporal rule that never missed has confidence exactly 1.
	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(1.0, 18, 0.01), 60, "x")
	require.NoError(t, err)
	p, err := m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, MaxInitialConfidence, p.Confidence)

	update, err := m.UpdateConfidence(ctx, id, []Evidence{{ID: "pos-1", Type: EvidencePositive, Timestamp: time.Now()}})
	require.NoError(t, err)
	assert.Equal(t, MaxInitialConfidence, update.OldConfidence)
	assert.Greater(t, update.NewConfidence, update.OldConfidence)
	assert.Less(t, update.NewConfidence, 1.0)
}

func TestManager_UpdatedAtTracksFreshEvidence(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	m, err := NewManager(NewInMemoryPatternStore(), nil, WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	require.NoError(t, err)

	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.80, 18, 0.003), 60, "x")
	require.NoError(t, err)
	saved, err := m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)

	require.NoError(t, m.MarkSurfaced(ctx, "u1", id, clock.Add(time.Hour)))
	p, err := m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, p.UpdatedAt.Equal(saved.UpdatedAt), "surfacing must not refresh UpdatedAt")

	ev := []Evidence{{ID: "e1", Type: EvidencePositive, Timestamp: clock}}
	_, err = m.UpdateConfidence(ctx, id, ev)
	require.NoError(t, err)
	p, err = m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, p.UpdatedAt.After(saved.UpdatedAt))
	applied := p.UpdatedAt

	update, err := m.UpdateConfidence(ctx, id, ev)
	require.NoError(t, err)
	assert.Equal(t, 0, update.Applied)
	p, err = m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, p.UpdatedAt.Equal(applied), "replayed evidence must not refresh UpdatedAt")
	require.NotNil(t, p.Metadata.LastEvaluatedAt)
	assert.True(t, p.Metadata.LastEvaluatedAt.After(applied))
}

func TestManager_EvidenceCountedOnce(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.80, 18, 0.003), 60, "x")
	require.NoError(t, err)

	ev := []Evidence{{ID: "e1", Type: EvidencePositive}, {ID: "e1", Type: EvidencePositive}}
	first, err := m.UpdateConfidence(ctx, id, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Applied)

	second, err := m.UpdateConfidence(ctx, id, ev)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Applied)
	assert.Equal(t, first.NewConfidence, second.NewConfidence)
	assert.Equal(t, 1, second.EvidenceSummary.Positive)
}

func TestManager_UpdateConfidenceValidation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	_, err := m.UpdateConfidence(ctx, "missing", negatives(1))
	assert.ErrorIs(t, err, ErrPatternNotFound)

	_, err = m.UpdateConfidence(ctx, "x", []Evidence{{ID: "e", Type: "maybe"}})
	assert.ErrorIs(t, err, ErrInvalidEvidence)
}

func TestManager_EvaluateAgainstEvents(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.80, 18, 0.003), 60, "x")
	require.NoError(t, err)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []health.Event{
		health.NewMealEvent("m1", "u1", start.Add(12*time.Hour), 800, "pasta"),
		health.NewSymptomEvent("s1", "u1", start.Add(15*time.Hour), "headache", 6),
		health.NewMealEvent("m2", "u1", start.Add(72*time.Hour), 800, "pasta"),
	}
	end := start.Add(7 * 24 * time.Hour)

	evidence, err := m.EvaluateAgainstEvents(ctx, id, events, start, end)
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, EvidencePositive, evidence[0].Type)
	assert.Equal(t, EvidenceNegative, evidence[1].Type)
	assert.Equal(t, SourceReplay, evidence[0].Source)
	assert.Equal(t, EvidenceID(id, "m1"), evidence[0].ID)

	again, err := m.EvaluateAgainstEvents(ctx, id, events, start, end)
	require.NoError(t, err)
	assert.Equal(t, evidence, again)

	_, err = m.EvaluateAgainstEvents(ctx, "missing", events, start, end)
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestManager_SubmitFeedback(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.80, 18, 0.003), 60, "x")
	require.NoError(t, err)

	_, err = m.SubmitFeedback(ctx, "intruder", id, true, "")
	assert.ErrorIs(t, err, ErrPatternNotFound)

	res, err := m.SubmitFeedback(ctx, "u1", id, true, "spot on")
	require.NoError(t, err)
	assert.Greater(t, res.NewConfidence, 0.80)
	assert.False(t, res.AdjustedFromFeedback)

	for i := 0; i < 4; i++ {
		res, err = m.SubmitFeedback(ctx, "u1", id, i%2 == 0, "")
		require.NoError(t, err)
	}
	assert.True(t, res.AdjustedFromFeedback)

	p, err := m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Metadata.FeedbackCount)
	assert.Equal(t, 3, p.Metadata.HelpfulCount)
	assert.Equal(t, 5, p.EvidenceSummary.Positive+p.EvidenceSummary.Negative)
}

func TestManager_GetPatternsNeedingFeedback(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	high, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.85, 18, 0.003), 80, "high")
	require.NoError(t, err)

	low := pastaCandidate(0.85, 18, 0.003)
	low.Rule.Temporal.Trigger.Label = "bread"
	_, _, err = m.SavePattern(ctx, "u1", low, 30, "low impact")
	require.NoError(t, err)

	weak := pastaCandidate(0.60, 18, 0.003)
	weak.Rule.Temporal.Trigger.Label = "rice"
	_, _, err = m.SavePattern(ctx, "u1", weak, 90, "weak")
	require.NoError(t, err)

	mid := pastaCandidate(0.75, 18, 0.003)
	mid.Rule.Temporal.Trigger.Label = "cheese"
	midID, _, err := m.SavePattern(ctx, "u1", mid, 60, "mid")
	require.NoError(t, err)

	got, err := m.GetPatternsNeedingFeedback(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, high, got[0].ID)
	assert.Equal(t, midID, got[1].ID)

	for i := 0; i < 3; i++ {
		_, err = m.SubmitFeedback(ctx, "u1", high, true, "")
		require.NoError(t, err)
	}
	got, err = m.GetPatternsNeedingFeedback(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, midID, got[0].ID)

	limited, err := m.GetPatternsNeedingFeedback(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestManager_MarkSurfaced(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	id, _, err := m.SavePattern(ctx, "u1", pastaCandidate(0.80, 18, 0.003), 60, "x")
	require.NoError(t, err)

	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkSurfaced(ctx, "u1", id, at))
	require.NoError(t, m.MarkSurfaced(ctx, "u1", id, at.Add(time.Hour)))
	assert.ErrorIs(t, m.MarkSurfaced(ctx, "u2", id, at), ErrPatternNotFound)

	p, err := m.GetPattern(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Metadata.SurfaceCount)
	require.NotNil(t, p.Metadata.LastSurfacedAt)
	assert.True(t, at.Add(time.Hour).Equal(*p.Metadata.LastSurfacedAt))
}

func TestAdjustConfidence(t *testing.T) {
	assert.Greater(t, AdjustConfidence(1.0, true), MaxInitialConfidence)
	assert.Less(t, AdjustConfidence(1.0, true), 1.0)

	c := 0.70
	for i := 0; i < 50; i++ {
		next := AdjustConfidence(c, true)
		assert.Greater(t, next, c)
		assert.Less(t, next, 1.0)
		c = next
	}

	c = 0.70
	for i := 0; i < 50; i++ {
		next := AdjustConfidence(c, false)
		assert.Less(t, next, c)
		assert.Greater(t, next, 0.0)
		c = next
	}
}
