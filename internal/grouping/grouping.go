// Package grouping turns health events into countable characteristics.
//
// A characteristic is a (event type, label) pair such as meal/pasta or
// sleep/poor. Detection builds contingency tables from these groups, and
// insight text is rendered from the same labels so the two never drift.
package grouping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/patternd/internal/health"
)

// Band labels for rated events.
const (
	SleepPoor      = "poor"
	SleepGood      = "good"
	SleepExcellent = "excellent"

	MoodLow     = "low"
	MoodNeutral = "neutral"
	MoodHigh    = "high"

	StressLow      = "low"
	StressModerate = "moderate"
	StressHigh     = "high"

	CustomLabel = "custom"
)

// Characteristic identifies a group of events of one type.
type Characteristic struct {
	Type  health.EventType `json:"event_type"`
	Label string           `json:"label"`
}

// String returns "type:label".
func (c Characteristic) String() string {
	return string(c.Type) + ":" + c.Label
}

// Describe renders the characteristic as a noun phrase for insight text.
func (c Characteristic) Describe() string {
	switch c.Type {
	case health.EventMeal:
		return fmt.Sprintf("meals containing %s", c.Label)
	case health.EventSleep:
		return fmt.Sprintf("%s sleep", c.Label)
	case health.EventSymptom:
		return c.Label
	case health.EventExercise:
		return fmt.Sprintf("%s exercise", c.Label)
	case health.EventMood:
		return fmt.Sprintf("%s mood", c.Label)
	case health.EventStress:
		return fmt.Sprintf("%s stress", c.Label)
	case health.EventTracker:
		return fmt.Sprintf("%s entries", c.Label)
	default:
		if c.Label == "" || c.Label == CustomLabel {
			return "custom events"
		}
		return c.Label
	}
}

// Rule derives zero or more labels from an event.
type Rule func(e *health.Event) []string

// DefaultRule returns the built-in rule for an event type.
func DefaultRule(t health.EventType) Rule {
	switch t {
	case health.EventMeal:
		return mealFoods
	case health.EventSleep:
		return sleepQuality
	case health.EventSymptom:
		return symptomLabel
	case health.EventExercise:
		return exerciseType
	case health.EventMood:
		return moodBand
	case health.EventStress:
		return stressBand
	case health.EventTracker:
		return trackerName
	default:
		return func(*health.Event) []string { return []string{CustomLabel} }
	}
}

// Labels applies the default rule for the event's own type.
func Labels(e *health.Event) []string {
	if e == nil {
		return nil
	}
	return DefaultRule(e.Type)(e)
}

// Has reports whether e carries characteristic c.
func Has(e *health.Event, c Characteristic) bool {
	if e == nil || e.Type != c.Type {
		return false
	}
	for _, l := range Labels(e) {
		if l == c.Label {
			return true
		}
	}
	return false
}

// GroupBy maps each label produced by rule to the events carrying it. An
// event producing several labels (a meal with several foods) appears in
// several groups, but never twice in the same group.
func GroupBy(events []health.Event, rule Rule) map[string][]health.Event {
	groups := make(map[string][]health.Event)
	for i := range events {
		seen := make(map[string]bool)
		for _, label := range rule(&events[i]) {
			if label == "" || seen[label] {
				continue
			}
			seen[label] = true
			groups[label] = append(groups[label], events[i])
		}
	}
	return groups
}

// ByCharacteristic groups events of type t using the default rule, ignoring
// events of any other type.
func ByCharacteristic(events []health.Event, t health.EventType) map[string][]health.Event {
	return GroupBy(health.OfType(events, t), DefaultRule(t))
}

// SortedLabels returns the group labels in lexical order.
func SortedLabels(groups map[string][]health.Event) []string {
	labels := make([]string, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// SleepBand maps a 1-10 sleep quality rating to poor, good or excellent.
func SleepBand(q float64) string {
	switch {
	case q <= 4:
		return SleepPoor
	case q < 8:
		return SleepGood
	default:
		return SleepExcellent
	}
}

// MoodBand maps a 1-10 mood rating to low, neutral or high.
func MoodBand(r float64) string {
	switch {
	case r <= 4:
		return MoodLow
	case r < 7:
		return MoodNeutral
	default:
		return MoodHigh
	}
}

// StressBand maps a 1-10 stress level to low, moderate or high.
func StressBand(l float64) string {
	switch {
	case l <= 3:
		return StressLow
	case l < 7:
		return StressModerate
	default:
		return StressHigh
	}
}

func mealFoods(e *health.Event) []string {
	v, ok := e.Attribute(health.AttrFoods)
	if !ok {
		return nil
	}
	foods, _ := v.([]string)
	out := make([]string, 0, len(foods))
	for _, f := range foods {
		if token := health.NormalizeLabel(f); token != "" {
			out = append(out, token)
		}
	}
	return out
}

func sleepQuality(e *health.Event) []string {
	return numericBand(e, health.AttrSleepQuality, SleepBand)
}

func moodBand(e *health.Event) []string {
	return numericBand(e, health.AttrMoodRating, MoodBand)
}

func stressBand(e *health.Event) []string {
	return numericBand(e, health.AttrStressLevel, StressBand)
}

func numericBand(e *health.Event, key string, band func(float64) string) []string {
	v, ok := e.Attribute(key)
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok || f <= 0 {
		return nil
	}
	return []string{band(f)}
}

func symptomLabel(e *health.Event) []string {
	return stringLabel(e, health.AttrSymptom)
}

func exerciseType(e *health.Event) []string {
	return stringLabel(e, health.AttrExerciseType)
}

func trackerName(e *health.Event) []string {
	return stringLabel(e, health.AttrTrackerName)
}

func stringLabel(e *health.Event, key string) []string {
	v, ok := e.Attribute(key)
	if !ok {
		return nil
	}
	s, _ := v.(string)
	if s = health.NormalizeLabel(s); s == "" {
		return nil
	}
	return []string{strings.Join(strings.Fields(s), " ")}
}
