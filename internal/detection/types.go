// Package detection mines pattern candidates from a user's health timeline.
//
// Every detector is a pure function of an event slice and an analysis
// window: it never touches storage and never mutates its input. Candidates
// are only emitted once they pass the significance gate (p < 0.05) and the
// detector's minimum-occurrence gate.
package detection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/grouping"
	"github.com/fyrsmithlabs/patternd/internal/health"
)

// PatternType classifies a discovered pattern.
type PatternType string

const (
	// PatternTemporalCorrelation is a trigger followed by an outcome within a time window.
	PatternTemporalCorrelation PatternType = "temporal_correlation"
	// PatternMultifactor is a combination of factors jointly preceding an outcome.
	PatternMultifactor PatternType = "multifactor_pattern"
	// PatternBehavioralSequence is an ordered chain of event types.
	PatternBehavioralSequence PatternType = "behavioral_sequence"
	// PatternCyclical is a recurrence keyed to a calendar cycle.
	PatternCyclical PatternType = "cyclical_pattern"
	// PatternSemanticCluster groups events by embedding similarity. No
	// detector produces it yet; it is accepted so that external producers
	// can persist clusters through the same lifecycle.
	PatternSemanticCluster PatternType = "semantic_cluster"
)

// AllPatternTypes lists every pattern type in a stable order.
var AllPatternTypes = []PatternType{
	PatternTemporalCorrelation,
	PatternMultifactor,
	PatternBehavioralSequence,
	PatternCyclical,
	PatternSemanticCluster,
}

// Valid reports whether t is a known pattern type.
func (t PatternType) Valid() bool {
	for _, known := range AllPatternTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Minimum occurrences required before a candidate may become a pattern.
const (
	DefaultTemporalMinOccurrences    = 10
	DefaultMultifactorMinOccurrences = 5
	DefaultSequenceMinOccurrences    = 5
	DefaultCyclicalMinOccurrences    = 4
)

// MinimumOccurrences returns the creation gate for a pattern type.
func MinimumOccurrences(t PatternType) int {
	switch t {
	case PatternTemporalCorrelation:
		return DefaultTemporalMinOccurrences
	case PatternMultifactor:
		return DefaultMultifactorMinOccurrences
	case PatternBehavioralSequence:
		return DefaultSequenceMinOccurrences
	case PatternCyclical:
		return DefaultCyclicalMinOccurrences
	default:
		return 1
	}
}

// TemporalRule describes a trigger characteristic followed by an outcome
// characteristic within [MinHours, MaxHours].
type TemporalRule struct {
	Trigger  grouping.Characteristic `json:"trigger"`
	Outcome  grouping.Characteristic `json:"outcome"`
	MinHours float64                 `json:"min_hours"`
	MaxHours float64                 `json:"max_hours"`
}

// MultifactorRule describes factors that must all occur within one window,
// followed by the outcome within LagHours of the last factor.
type MultifactorRule struct {
	Factors     []health.EventFilter `json:"factors"`
	Outcome     health.EventFilter   `json:"outcome"`
	WindowHours float64              `json:"window_hours"`
	LagHours    float64              `json:"lag_hours"`
}

// SequenceRule describes an ordered chain of event types with a bounded gap
// between consecutive steps.
type SequenceRule struct {
	Steps       []health.EventType `json:"steps"`
	MaxGapHours float64            `json:"max_gap_hours"`
}

// CycleWeekly is the only supported cycle unit.
const CycleWeekly = "weekly"

// CyclicalRule describes a characteristic that recurs on one weekday.
type CyclicalRule struct {
	Cycle          string                  `json:"cycle"`
	Weekday        time.Weekday            `json:"weekday"`
	Characteristic grouping.Characteristic `json:"characteristic"`
	Timezone       string                  `json:"timezone"`
}

// SemanticRule names an externally produced cluster.
type SemanticRule struct {
	Theme    string   `json:"theme"`
	Keywords []string `json:"keywords,omitempty"`
}

// Rule is the structured description of a pattern. Exactly one field is
// set, matching the pattern type.
type Rule struct {
	Temporal    *TemporalRule    `json:"temporal,omitempty"`
	Multifactor *MultifactorRule `json:"multifactor,omitempty"`
	Sequence    *SequenceRule    `json:"sequence,omitempty"`
	Cyclical    *CyclicalRule    `json:"cyclical,omitempty"`
	Semantic    *SemanticRule    `json:"semantic,omitempty"`
}

// Type returns the pattern type implied by the populated field.
func (r Rule) Type() PatternType {
	switch {
	case r.Temporal != nil:
		return PatternTemporalCorrelation
	case r.Multifactor != nil:
		return PatternMultifactor
	case r.Sequence != nil:
		return PatternBehavioralSequence
	case r.Cyclical != nil:
		return PatternCyclical
	case r.Semantic != nil:
		return PatternSemanticCluster
	default:
		return ""
	}
}

// Key returns a normalized identity for the rule. Two candidates with the
// same type and key describe the same pattern.
func (r Rule) Key() string {
	switch {
	case r.Temporal != nil:
		t := r.Temporal
		return fmt.Sprintf("%s->%s@%g-%gh", t.Trigger, t.Outcome, t.MinHours, t.MaxHours)
	case r.Multifactor != nil:
		m := r.Multifactor
		factors := make([]string, len(m.Factors))
		for i, f := range m.Factors {
			factors[i] = f.String()
		}
		return fmt.Sprintf("%s->%s@%gh+%gh", strings.Join(factors, "&"), m.Outcome, m.WindowHours, m.LagHours)
	case r.Sequence != nil:
		steps := make([]string, len(r.Sequence.Steps))
		for i, s := range r.Sequence.Steps {
			steps[i] = string(s)
		}
		return fmt.Sprintf("%s@%gh", strings.Join(steps, ">"), r.Sequence.MaxGapHours)
	case r.Cyclical != nil:
		c := r.Cyclical
		return fmt.Sprintf("%s:%s:%s", c.Cycle, strings.ToLower(c.Weekday.String()), c.Characteristic)
	case r.Semantic != nil:
		return "semantic:" + health.NormalizeLabel(r.Semantic.Theme)
	default:
		return ""
	}
}

// Candidate is an unsaved, statistically tested pattern proposal.
type Candidate struct {
	// Type classifies the candidate.
	Type PatternType `json:"pattern_type"`
	// Rule is the type-specific description.
	Rule Rule `json:"pattern_rule"`
	// Confidence is the conditional hit rate in [0,1].
	Confidence float64 `json:"confidence"`
	// Occurrences counts confirmed instances in the analysis window.
	Occurrences int `json:"occurrences"`
	// PValue is the significance of the association.
	PValue float64 `json:"p_value"`
	// EffectSize is optional; phi for contingency tables.
	EffectSize *float64 `json:"effect_size,omitempty"`
}

// Validate checks the candidate's invariants.
func (c *Candidate) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPatternType, c.Type)
	}
	if c.Rule.Type() != c.Type {
		return fmt.Errorf("%w: rule describes %q", ErrRuleMismatch, c.Rule.Type())
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v", ErrOutOfRange, c.Confidence)
	}
	if c.PValue < 0 || c.PValue > 1 {
		return fmt.Errorf("%w: p-value %v", ErrOutOfRange, c.PValue)
	}
	if c.Occurrences < 0 {
		return fmt.Errorf("%w: occurrences %d", ErrOutOfRange, c.Occurrences)
	}
	return nil
}

// Window is the analysis range handed to detectors.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Detector produces candidates from a user's events. Events may arrive in
// any order.
type Detector interface {
	Type() PatternType
	Detect(ctx context.Context, events []health.Event, window Window) ([]Candidate, error)
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func effect(v float64) *float64 {
	return &v
}
