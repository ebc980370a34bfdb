package detection

import (
	"time"

	"github.com/fyrsmithlabs/patternd/internal/health"
)

// DefaultDetectors returns the nightly detector set for a user in loc:
// meal->symptom within 1-48h, exercise->sleep within 4-12h, the default
// multi-factor pool, sequences of length 2-4 and weekly cycles.
func DefaultDetectors(loc *time.Location) ([]Detector, error) {
	mealSymptom, err := NewTemporalDetector(TemporalConfig{
		TriggerType: health.EventMeal,
		OutcomeType: health.EventSymptom,
		MinHours:    1,
		MaxHours:    48,
	})
	if err != nil {
		return nil, err
	}
	exerciseSleep, err := NewTemporalDetector(TemporalConfig{
		TriggerType: health.EventExercise,
		OutcomeType: health.EventSleep,
		MinHours:    4,
		MaxHours:    12,
	})
	if err != nil {
		return nil, err
	}
	multifactor, err := NewMultifactorDetector(DefaultMultifactorConfig())
	if err != nil {
		return nil, err
	}
	sequence, err := NewSequenceDetector(DefaultSequenceConfig())
	if err != nil {
		return nil, err
	}
	cyclical, err := NewCyclicalDetector(CyclicalConfig{Cycle: CycleWeekly, Location: loc})
	if err != nil {
		return nil, err
	}
	return []Detector{mealSymptom, exerciseSleep, multifactor, sequence, cyclical}, nil
}
