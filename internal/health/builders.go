package health

import "time"

// NewMealEvent builds a meal event.
func NewMealEvent(id, userID string, ts time.Time, calories float64, foods ...string) Event {
	return Event{
		ID: id, UserID: userID, Type: EventMeal, Timestamp: ts,
		Meal: &MealPayload{Foods: foods, TotalCalories: calories},
	}
}

// NewSleepEvent builds a sleep event.
func NewSleepEvent(id, userID string, ts time.Time, quality, hours float64) Event {
	return Event{
		ID: id, UserID: userID, Type: EventSleep, Timestamp: ts,
		Sleep: &SleepPayload{QualityRating: quality, TotalSleepHours: hours},
	}
}

// NewSymptomEvent builds a symptom event.
func NewSymptomEvent(id, userID string, ts time.Time, symptom string, severity float64) Event {
	return Event{
		ID: id, UserID: userID, Type: EventSymptom, Timestamp: ts,
		Symptom: &SymptomPayload{Symptom: symptom, Severity: severity},
	}
}

// NewExerciseEvent builds an exercise event.
func NewExerciseEvent(id, userID string, ts time.Time, exerciseType string, minutes float64) Event {
	return Event{
		ID: id, UserID: userID, Type: EventExercise, Timestamp: ts,
		Exercise: &ExercisePayload{ExerciseType: exerciseType, DurationMinutes: minutes},
	}
}

// NewMoodEvent builds a mood event.
func NewMoodEvent(id, userID string, ts time.Time, rating float64) Event {
	return Event{
		ID: id, UserID: userID, Type: EventMood, Timestamp: ts,
		Mood: &MoodPayload{Rating: rating},
	}
}

// NewStressEvent builds a stress event.
func NewStressEvent(id, userID string, ts time.Time, level float64) Event {
	return Event{
		ID: id, UserID: userID, Type: EventStress, Timestamp: ts,
		Stress: &StressPayload{Level: level},
	}
}

// NewTrackerEvent builds a custom tracker event.
func NewTrackerEvent(id, userID string, ts time.Time, name string, value float64) Event {
	return Event{
		ID: id, UserID: userID, Type: EventTracker, Timestamp: ts,
		Tracker: &TrackerPayload{Name: name, Value: value},
	}
}
