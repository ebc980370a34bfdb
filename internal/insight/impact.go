// Package insight scores pattern candidates and renders them as advice.
package insight

import (
	"math"
	"strings"

	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/health"
)

// Impact weights. They sum to 1 and each sub-score is on a 0-10 scale.
const (
	severityWeight      = 0.35
	frequencyWeight     = 0.25
	confidenceWeight    = 0.25
	actionabilityWeight = 0.15

	// frequencySaturation is the occurrence count (about twice a week over
	// the 90-day window) at which frequency maxes out.
	frequencySaturation = 26.0

	DefaultSeverity = 5.0
)

// severityTerms are matched in order; the first hit wins.
var severityTerms = []struct {
	terms []string
	score float64
}{
	{[]string{"migraine", "severe", "vomit", "nausea", "faint", "chest pain", "panic"}, 9},
	{[]string{"mild", "slight", "bloat", "gas"}, 5},
	{[]string{"fatigue", "tired", "exhaust", "insomnia", "poor sleep", "drows", "headache", "cramp", "brain fog"}, 7},
}

// Severity maps an outcome description to a 0-10 severity.
func Severity(outcome string) float64 {
	text := strings.ToLower(outcome)
	for _, group := range severityTerms {
		for _, term := range group.terms {
			if strings.Contains(text, term) {
				return group.score
			}
		}
	}
	return DefaultSeverity
}

// actionability by trigger event type.
var triggerActionability = map[health.EventType]float64{
	health.EventMeal:     9,
	health.EventExercise: 8,
	health.EventSleep:    7,
	health.EventMood:     5,
	health.EventStress:   4,
	health.EventSymptom:  5,
	health.EventTracker:  6,
	health.EventCustom:   6,
}

// Actionability scores how much a user can act on the pattern.
func Actionability(c detection.Candidate) float64 {
	switch c.Type {
	case detection.PatternTemporalCorrelation:
		if c.Rule.Temporal != nil {
			if v, ok := triggerActionability[c.Rule.Temporal.Trigger.Type]; ok {
				return v
			}
		}
		return 6
	case detection.PatternMultifactor:
		return 7
	case detection.PatternBehavioralSequence:
		return 7.5
	default:
		return 6
	}
}

// Outcome returns the text severity is inferred from.
func Outcome(c detection.Candidate) string {
	r := c.Rule
	switch {
	case r.Temporal != nil:
		return r.Temporal.Outcome.Describe()
	case r.Multifactor != nil:
		return r.Multifactor.Outcome.Describe()
	case r.Sequence != nil && len(r.Sequence.Steps) > 0:
		return string(r.Sequence.Steps[len(r.Sequence.Steps)-1])
	case r.Cyclical != nil:
		return r.Cyclical.Characteristic.Describe()
	case r.Semantic != nil:
		return r.Semantic.Theme
	default:
		return ""
	}
}

type options struct {
	severity *float64
}

// Option configures ImpactScore.
type Option func(*options)

// WithSeverity overrides the lexically inferred severity.
func WithSeverity(s float64) Option {
	return func(o *options) {
		o.severity = &s
	}
}

// ImpactScore combines severity, frequency, confidence and actionability into
// a 0-100 score. It is non-decreasing in occurrences and in confidence.
func ImpactScore(c detection.Candidate, opts ...Option) float64 {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	severity := Severity(Outcome(c))
	if o.severity != nil {
		severity = clamp(*o.severity, 0, 10)
	}
	frequency := math.Min(10, 10*float64(c.Occurrences)/frequencySaturation)
	if frequency < 0 {
		frequency = 0
	}
	confidence := 10 * clamp(c.Confidence, 0, 1)

	score := 10 * (severityWeight*severity +
		frequencyWeight*frequency +
		confidenceWeight*confidence +
		actionabilityWeight*Actionability(c))

	return clamp(math.Round(score*10)/10, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
