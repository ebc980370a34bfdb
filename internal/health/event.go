// Package health defines the health event timeline consumed by pattern mining.
//
// Events are immutable records created by upstream logging flows. Each event
// carries exactly one typed payload matching its EventType, plus an Extra map
// reserved for forward-compatible custom fields. Detection code never reads
// payload structs directly; it goes through Event.Attribute so that filters
// and grouping rules share a single key vocabulary.
package health

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors for health events.
var (
	ErrEmptyEventID     = errors.New("event ID cannot be empty")
	ErrEmptyUserID      = errors.New("user ID cannot be empty")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrPayloadMismatch  = errors.New("event payload does not match event type")
	ErrZeroTimestamp    = errors.New("event timestamp cannot be zero")
	ErrInvalidTimeRange = errors.New("start must not be after end")
)

// EventType identifies the kind of health event.
type EventType string

const (
	EventMeal     EventType = "meal"
	EventSleep    EventType = "sleep"
	EventExercise EventType = "exercise"
	EventSymptom  EventType = "symptom"
	EventMood     EventType = "mood"
	EventStress   EventType = "stress"
	EventTracker  EventType = "tracker"
	EventCustom   EventType = "custom"
)

// AllEventTypes lists every supported event type in a stable order.
var AllEventTypes = []EventType{
	EventMeal, EventSleep, EventExercise, EventSymptom,
	EventMood, EventStress, EventTracker, EventCustom,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Attribute keys exposed by Event.Attribute.
const (
	AttrFoods           = "foods"
	AttrTotalCalories   = "total_calories"
	AttrProteinGrams    = "protein_g"
	AttrCarbsGrams      = "carbs_g"
	AttrFatGrams        = "fat_g"
	AttrSleepQuality    = "sleep_quality_rating"
	AttrTotalSleepHours = "total_sleep_hours"
	AttrBedtime         = "bedtime"
	AttrWakeTime        = "wake_time"
	AttrExerciseType    = "exercise_type"
	AttrDurationMinutes = "duration_minutes"
	AttrIntensity       = "intensity"
	AttrSymptom         = "symptom"
	AttrSeverity        = "severity"
	AttrMoodRating      = "mood_rating"
	AttrMoodLabel       = "mood"
	AttrStressLevel     = "stress_level"
	AttrStressSource    = "stress_source"
	AttrTrackerName     = "tracker_name"
	AttrTrackerValue    = "value"
	AttrTrackerUnit     = "unit"
)

// MealPayload is the typed payload for meal events.
type MealPayload struct {
	Foods         []string `json:"foods"`
	TotalCalories float64  `json:"total_calories,omitempty"`
	ProteinGrams  float64  `json:"protein_g,omitempty"`
	CarbsGrams    float64  `json:"carbs_g,omitempty"`
	FatGrams      float64  `json:"fat_g,omitempty"`
}

// SleepPayload is the typed payload for sleep events.
type SleepPayload struct {
	QualityRating   float64   `json:"sleep_quality_rating"`
	TotalSleepHours float64   `json:"total_sleep_hours,omitempty"`
	Bedtime         time.Time `json:"bedtime,omitempty"`
	WakeTime        time.Time `json:"wake_time,omitempty"`
}

// ExercisePayload is the typed payload for exercise events.
type ExercisePayload struct {
	ExerciseType    string  `json:"exercise_type"`
	DurationMinutes float64 `json:"duration_minutes,omitempty"`
	Intensity       string  `json:"intensity,omitempty"`
}

// SymptomPayload is the typed payload for symptom events.
type SymptomPayload struct {
	Symptom  string  `json:"symptom"`
	Severity float64 `json:"severity,omitempty"`
}

// MoodPayload is the typed payload for mood events.
type MoodPayload struct {
	Rating float64 `json:"mood_rating"`
	Label  string  `json:"mood,omitempty"`
}

// StressPayload is the typed payload for stress events.
type StressPayload struct {
	Level  float64 `json:"stress_level"`
	Source string  `json:"stress_source,omitempty"`
}

// TrackerPayload is the typed payload for custom tracker events.
type TrackerPayload struct {
	Name  string  `json:"tracker_name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Event is a single timestamped health occurrence for a user.
//
// Exactly one payload pointer is set and it must match Type. Custom events
// carry no payload and rely on Extra alone.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	Meal     *MealPayload     `json:"meal,omitempty"`
	Sleep    *SleepPayload    `json:"sleep,omitempty"`
	Exercise *ExercisePayload `json:"exercise,omitempty"`
	Symptom  *SymptomPayload  `json:"symptom,omitempty"`
	Mood     *MoodPayload     `json:"mood,omitempty"`
	Stress   *StressPayload   `json:"stress,omitempty"`
	Tracker  *TrackerPayload  `json:"tracker,omitempty"`

	// Extra holds forward-compatible fields not covered by the typed payload.
	Extra map[string]any `json:"extra,omitempty"`
}

// Validate checks that the event is well formed.
func (e *Event) Validate() error {
	if e.ID == "" {
		return ErrEmptyEventID
	}
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if e.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}

	set := 0
	matches := false
	check := func(present bool, t EventType) {
		if present {
			set++
			if e.Type == t {
				matches = true
			}
		}
	}
	check(e.Meal != nil, EventMeal)
	check(e.Sleep != nil, EventSleep)
	check(e.Exercise != nil, EventExercise)
	check(e.Symptom != nil, EventSymptom)
	check(e.Mood != nil, EventMood)
	check(e.Stress != nil, EventStress)
	check(e.Tracker != nil, EventTracker)

	switch {
	case e.Type == EventCustom && set == 0:
		return nil
	case set == 1 && matches:
		return nil
	default:
		return fmt.Errorf("%w: type=%s payloads=%d", ErrPayloadMismatch, e.Type, set)
	}
}

// Attribute returns the value for a metadata key, looking at the typed
// payload first and then Extra. Numbers are returned as float64, lists as
// []string and everything else as string or time.Time.
func (e *Event) Attribute(key string) (any, bool) {
	switch e.Type {
	case EventMeal:
		if e.Meal != nil {
			switch key {
			case AttrFoods:
				return e.Meal.Foods, true
			case AttrTotalCalories:
				return e.Meal.TotalCalories, true
			case AttrProteinGrams:
				return e.Meal.ProteinGrams, true
			case AttrCarbsGrams:
				return e.Meal.CarbsGrams, true
			case AttrFatGrams:
				return e.Meal.FatGrams, true
			}
		}
	case EventSleep:
		if e.Sleep != nil {
			switch key {
			case AttrSleepQuality:
				return e.Sleep.QualityRating, true
			case AttrTotalSleepHours:
				return e.Sleep.TotalSleepHours, true
			case AttrBedtime:
				return e.Sleep.Bedtime, !e.Sleep.Bedtime.IsZero()
			case AttrWakeTime:
				return e.Sleep.WakeTime, !e.Sleep.WakeTime.IsZero()
			}
		}
	case EventExercise:
		if e.Exercise != nil {
			switch key {
			case AttrExerciseType:
				return e.Exercise.ExerciseType, true
			case AttrDurationMinutes:
				return e.Exercise.DurationMinutes, true
			case AttrIntensity:
				return e.Exercise.Intensity, e.Exercise.Intensity != ""
			}
		}
	case EventSymptom:
		if e.Symptom != nil {
			switch key {
			case AttrSymptom:
				return e.Symptom.Symptom, true
			case AttrSeverity:
				return e.Symptom.Severity, true
			}
		}
	case EventMood:
		if e.Mood != nil {
			switch key {
			case AttrMoodRating:
				return e.Mood.Rating, true
			case AttrMoodLabel:
				return e.Mood.Label, e.Mood.Label != ""
			}
		}
	case EventStress:
		if e.Stress != nil {
			switch key {
			case AttrStressLevel:
				return e.Stress.Level, true
			case AttrStressSource:
				return e.Stress.Source, e.Stress.Source != ""
			}
		}
	case EventTracker:
		if e.Tracker != nil {
			switch key {
			case AttrTrackerName:
				return e.Tracker.Name, true
			case AttrTrackerValue:
				return e.Tracker.Value, true
			case AttrTrackerUnit:
				return e.Tracker.Unit, e.Tracker.Unit != ""
			}
		}
	}

	if e.Extra != nil {
		if v, ok := e.Extra[key]; ok {
			return normalizeExtra(v), true
		}
	}
	return nil, false
}

// normalizeExtra converts loosely typed values (e.g. decoded JSON) into the
// shapes Attribute promises.
func normalizeExtra(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return v
	}
}

// NormalizeLabel lowercases and trims a free-text label.
func NormalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
