package detection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/grouping"
	"github.com/fyrsmithlabs/patternd/internal/health"
)

var base = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC) // a Monday

func at(day, hour int) time.Time {
	return base.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
}

func id(prefix string, n int) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}

// pastaHeadacheEvents: 18 pasta meals, 15 followed by a headache 3h later,
// and 5 salad controls with no headache.
func pastaHeadacheEvents() []health.Event {
	var events []health.Event
	for i := 0; i < 18; i++ {
		events = append(events, health.NewMealEvent(id("pasta", i), "u1", at(i, 12), 850, "pasta"))
		if i < 15 {
			events = append(events, health.NewSymptomEvent(id("headache", i), "u1", at(i, 15), "headache", 6))
		}
	}
	for i := 0; i < 5; i++ {
		events = append(events, health.NewMealEvent(id("salad", i), "u1", at(20+i, 12), 400, "salad"))
	}
	return events
}

func TestTemporalDetector_DiscoversTriggerOutcome(t *testing.T) {
	d, err := NewTemporalDetector(TemporalConfig{
		TriggerType: health.EventMeal,
		OutcomeType: health.EventSymptom,
		MinHours:    1,
		MaxHours:    48,
	})
	require.NoError(t, err)

	candidates, err := d.Detect(context.Background(), pastaHeadacheEvents(), Window{Start: at(0, 0), End: at(30, 0)})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, PatternTemporalCorrelation, c.Type)
	assert.GreaterOrEqual(t, c.Occurrences, 10)
	assert.Equal(t, 15, c.Occurrences)
	assert.Less(t, c.PValue, 0.05)
	assert.InDelta(t, 15.0/18.0, c.Confidence, 1e-9)
	require.NotNil(t, c.EffectSize)
	assert.Greater(t, *c.EffectSize, 0.0)

	require.NotNil(t, c.Rule.Temporal)
	assert.Equal(t, grouping.Characteristic{Type: health.EventMeal, Label: "pasta"}, c.Rule.Temporal.Trigger)
	assert.Equal(t, grouping.Characteristic{Type: health.EventSymptom, Label: "headache"}, c.Rule.Temporal.Outcome)
	assert.NoError(t, c.Validate())
}

func TestTemporalDetector_BelowMinimumOccurrences(t *testing.T) {
	var events []health.Event
	for i := 0; i < 8; i++ {
		events = append(events, health.NewMealEvent(id("pasta", i), "u1", at(i, 12), 850, "pasta"))
		events = append(events, health.NewSymptomEvent(id("headache", i), "u1", at(i, 15), "headache", 6))
	}
	for i := 0; i < 8; i++ {
		events = append(events, health.NewMealEvent(id("salad", i), "u1", at(20+i, 12), 400, "salad"))
	}

	d, err := NewTemporalDetector(TemporalConfig{TriggerType: health.EventMeal, OutcomeType: health.EventSymptom, MinHours: 1, MaxHours: 48})
	require.NoError(t, err)

	candidates, err := d.Detect(context.Background(), events, Window{Start: at(0, 0), End: at(40, 0)})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestTemporalDetector_IgnoresTriggersWithOpenWindow(t *testing.T) {
	d, err := NewTemporalDetector(TemporalConfig{TriggerType: health.EventMeal, OutcomeType: health.EventSymptom, MinHours: 1, MaxHours: 48})
	require.NoError(t, err)

	// End the window before the later pasta meals can be observed.
	candidates, err := d.Detect(context.Background(), pastaHeadacheEvents(), Window{Start: at(0, 0), End: at(10, 0)})
	require.NoError(t, err)
	assert.Empty(t, candidates, "no control triggers are observable yet")
}

func TestNewTemporalDetector_InvalidConfig(t *testing.T) {
	_, err := NewTemporalDetector(TemporalConfig{TriggerType: health.EventMeal, OutcomeType: health.EventSymptom, MinHours: 5, MaxHours: 2})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTemporalDetector(TemporalConfig{TriggerType: "snack", OutcomeType: health.EventSymptom, MaxHours: 2})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMultifactorDetector_PoorSleepAndStress(t *testing.T) {
	var events []health.Event
	for i := 0; i < 12; i++ {
		events = append(events,
			health.NewSleepEvent(id("sleep", i), "u1", at(i, 7), 3, 5),
			health.NewStressEvent(id("stress", i), "u1", at(i, 12), 8),
			health.NewSymptomEvent(id("headache", i), "u1", at(i, 18), "headache", 6),
		)
	}
	for i := 12; i < 20; i++ {
		events = append(events, health.NewSleepEvent(id("sleep", i), "u1", at(i, 7), 3, 5))
	}
	events = append(events,
		health.NewSymptomEvent("lone-1", "u1", at(30, 18), "headache", 4),
		health.NewSymptomEvent("lone-2", "u1", at(35, 18), "headache", 4),
	)

	d, err := NewMultifactorDetector(DefaultMultifactorConfig())
	require.NoError(t, err)

	candidates, err := d.Detect(context.Background(), events, Window{Start: at(0, 0), End: at(40, 0)})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	require.NotNil(t, c.Rule.Multifactor)
	assert.Len(t, c.Rule.Multifactor.Factors, 2)
	assert.Equal(t, 12, c.Occurrences)
	assert.Less(t, c.PValue, 0.05)
	assert.Equal(t, 1.0, c.Confidence)
	assert.Contains(t, c.Rule.Key(), "sleep[sleep_quality_rating<=4]&stress[stress_level>=7]")
}

func TestNewMultifactorDetector_NeedsTwoFactors(t *testing.T) {
	cfg := DefaultMultifactorConfig()
	cfg.Factors = cfg.Factors[:1]
	_, err := NewMultifactorDetector(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCombinations(t *testing.T) {
	assert.Len(t, combinations(4, 2), 6)
	assert.Len(t, combinations(4, 3), 4)
	assert.Equal(t, [][]int{{0, 1, 2, 3}}, combinations(4, 4))
}

// routineEvents repeats stress -> sleep -> symptom -> meal for days days.
func routineEvents(days int) []health.Event {
	var events []health.Event
	for i := 0; i < days; i++ {
		events = append(events,
			health.NewStressEvent(id("stress", i), "u1", at(i, 20), 8),
			health.NewSleepEvent(id("sleep", i), "u1", at(i+1, 7), 3, 6),
			health.NewSymptomEvent(id("symptom", i), "u1", at(i+1, 10), "fatigue", 5),
			health.NewMealEvent(id("meal", i), "u1", at(i+1, 13), 600, "rice"),
		)
	}
	return events
}

func TestSequenceDetector_FindsRoutine(t *testing.T) {
	d, err := NewSequenceDetector(DefaultSequenceConfig())
	require.NoError(t, err)

	candidates, err := d.Detect(context.Background(), routineEvents(10), Window{Start: at(0, 0), End: at(12, 0)})
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	var found *Candidate
	for i := range candidates {
		c := candidates[i]
		assert.GreaterOrEqual(t, c.Occurrences, DefaultSequenceMinOccurrences)
		assert.Less(t, c.PValue, 0.05)
		if c.Rule.Key() == "stress>sleep>symptom@24h" {
			found = &candidates[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 10, found.Occurrences)
	assert.Equal(t, []health.EventType{health.EventStress, health.EventSleep, health.EventSymptom}, found.Rule.Sequence.Steps)
}

func TestSequenceDetector_SkipsUniformChains(t *testing.T) {
	var events []health.Event
	for i := 0; i < 20; i++ {
		events = append(events, health.NewMealEvent(id("meal", i), "u1", at(0, i), 500, "rice"))
	}
	d, err := NewSequenceDetector(DefaultSequenceConfig())
	require.NoError(t, err)

	candidates, err := d.Detect(context.Background(), events, Window{Start: at(0, 0), End: at(2, 0)})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSequenceDetector_GapBreaksChain(t *testing.T) {
	var events []health.Event
	for i := 0; i < 10; i++ {
		// 30h between stress and sleep exceeds the 24h gap.
		events = append(events,
			health.NewStressEvent(id("stress", i), "u1", at(i*3, 0), 8),
			health.NewSleepEvent(id("sleep", i), "u1", at(i*3+1, 6), 3, 6),
		)
	}
	d, err := NewSequenceDetector(DefaultSequenceConfig())
	require.NoError(t, err)

	candidates, err := d.Detect(context.Background(), events, Window{Start: at(0, 0), End: at(40, 0)})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func mondayHeadaches() []health.Event {
	var events []health.Event
	for w := 0; w < 12; w++ {
		if w == 3 || w == 9 {
			continue
		}
		events = append(events, health.NewSymptomEvent(id("monday", w), "u1", at(w*7, 9), "Migraine", 8))
	}
	events = append(events,
		health.NewSymptomEvent("wed", "u1", at(2, 9), "migraine", 5),
		health.NewSymptomEvent("fri", "u1", at(5*7+4, 9), "migraine", 5),
		health.NewSymptomEvent("sat", "u1", at(8*7+5, 9), "migraine", 5),
	)
	return events
}

func TestCyclicalDetector_WeeklyMonday(t *testing.T) {
	d, err := NewCyclicalDetector(CyclicalConfig{Location: time.UTC})
	require.NoError(t, err)

	window := Window{Start: at(0, 0), End: at(84, 0).Add(-time.Second)}
	candidates, err := d.Detect(context.Background(), mondayHeadaches(), window)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	require.NotNil(t, c.Rule.Cyclical)
	assert.Equal(t, time.Monday, c.Rule.Cyclical.Weekday)
	assert.Equal(t, "migraine", c.Rule.Cyclical.Characteristic.Label)
	assert.Equal(t, 10, c.Occurrences)
	assert.InDelta(t, 10.0/12.0, c.Confidence, 1e-9)
	assert.Less(t, c.PValue, 0.05)
	assert.Equal(t, "weekly:monday:symptom:migraine", c.Rule.Key())
}

func TestCyclicalDetector_UsesLocalCalendar(t *testing.T) {
	// 03:00 UTC on Tuesday is still Monday five hours west of UTC.
	west := time.FixedZone("UTC-5", -5*3600)
	var events []health.Event
	for w := 0; w < 8; w++ {
		events = append(events, health.NewSymptomEvent(id("late", w), "u1", at(w*7+1, 3), "insomnia", 6))
	}
	window := Window{Start: at(0, 0), End: at(56, 0)}

	local, err := NewCyclicalDetector(CyclicalConfig{Location: west})
	require.NoError(t, err)
	candidates, err := local.Detect(context.Background(), events, window)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, time.Monday, candidates[0].Rule.Cyclical.Weekday)

	utc, err := NewCyclicalDetector(CyclicalConfig{})
	require.NoError(t, err)
	candidates, err = utc.Detect(context.Background(), events, window)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, time.Tuesday, candidates[0].Rule.Cyclical.Weekday)
}

func TestNewCyclicalDetector_UnsupportedCycle(t *testing.T) {
	_, err := NewCyclicalDetector(CyclicalConfig{Cycle: "lunar"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaultDetectors(t *testing.T) {
	detectors, err := DefaultDetectors(time.UTC)
	require.NoError(t, err)

	types := make([]PatternType, 0, len(detectors))
	for _, d := range detectors {
		types = append(types, d.Type())
	}
	assert.Equal(t, []PatternType{
		PatternTemporalCorrelation,
		PatternTemporalCorrelation,
		PatternMultifactor,
		PatternBehavioralSequence,
		PatternCyclical,
	}, types)
}

func TestDetect_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := NewTemporalDetector(TemporalConfig{TriggerType: health.EventMeal, OutcomeType: health.EventSymptom, MinHours: 1, MaxHours: 48})
	require.NoError(t, err)
	_, err = d.Detect(ctx, pastaHeadacheEvents(), Window{Start: at(0, 0), End: at(30, 0)})
	assert.ErrorIs(t, err, context.Canceled)
}
