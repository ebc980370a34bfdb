package detection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/grouping"
	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/stats"
)

// TemporalConfig parameterizes a temporal correlation detector.
type TemporalConfig struct {
	TriggerType    health.EventType
	OutcomeType    health.EventType
	MinHours       float64
	MaxHours       float64
	MinOccurrences int
	Alpha          float64
}

// TemporalDetector finds trigger characteristics that raise the rate of an
// outcome characteristic within a fixed delay window.
//
// For every (trigger label, outcome label) pair it builds
//
//	                   followed   not followed
//	label triggers        a            b
//	other triggers        c            d
//
// and keeps the pair when a >= MinOccurrences, the chi-square p-value is
// below Alpha and the label's hit rate exceeds the baseline.
type TemporalDetector struct {
	cfg TemporalConfig
}

// NewTemporalDetector validates cfg and applies defaults.
func NewTemporalDetector(cfg TemporalConfig) (*TemporalDetector, error) {
	if !cfg.TriggerType.Valid() || !cfg.OutcomeType.Valid() {
		return nil, fmt.Errorf("%w: trigger %q outcome %q", ErrInvalidConfig, cfg.TriggerType, cfg.OutcomeType)
	}
	if cfg.MinHours < 0 || cfg.MaxHours <= cfg.MinHours {
		return nil, fmt.Errorf("%w: window [%g, %g] hours", ErrInvalidConfig, cfg.MinHours, cfg.MaxHours)
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = DefaultTemporalMinOccurrences
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = stats.DefaultAlpha
	}
	return &TemporalDetector{cfg: cfg}, nil
}

// Type implements Detector.
func (d *TemporalDetector) Type() PatternType {
	return PatternTemporalCorrelation
}

// Detect implements Detector.
func (d *TemporalDetector) Detect(ctx context.Context, events []health.Event, window Window) ([]Candidate, error) {
	ordered := health.Chronological(events)
	maxDelay := hours(d.cfg.MaxHours)

	// A trigger only counts once its whole outcome window is observable.
	var triggers []health.Event
	for _, e := range health.OfType(ordered, d.cfg.TriggerType) {
		if e.Timestamp.Before(window.Start) || e.Timestamp.Add(maxDelay).After(window.End) {
			continue
		}
		triggers = append(triggers, e)
	}
	if len(triggers) == 0 {
		return nil, nil
	}

	triggerLabels := make([]map[string]bool, len(triggers))
	for i := range triggers {
		set := make(map[string]bool)
		for _, l := range grouping.Labels(&triggers[i]) {
			set[l] = true
		}
		triggerLabels[i] = set
	}
	triggerGroups := grouping.ByCharacteristic(triggers, d.cfg.TriggerType)
	outcomeGroups := grouping.ByCharacteristic(ordered, d.cfg.OutcomeType)

	var candidates []Candidate
	for _, outcomeLabel := range grouping.SortedLabels(outcomeGroups) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		times := timestamps(outcomeGroups[outcomeLabel])
		followed := make([]bool, len(triggers))
		for i := range triggers {
			followed[i] = d.followed(triggers[i].Timestamp, times)
		}

		for _, triggerLabel := range grouping.SortedLabels(triggerGroups) {
			var a, b, c, dd float64
			for i := range triggers {
				switch {
				case triggerLabels[i][triggerLabel] && followed[i]:
					a++
				case triggerLabels[i][triggerLabel]:
					b++
				case followed[i]:
					c++
				default:
					dd++
				}
			}
			if int(a) < d.cfg.MinOccurrences {
				continue
			}
			if c+dd > 0 && a/(a+b) <= c/(c+dd) {
				continue
			}

			res, err := stats.ChiSquareTest([][]float64{{a, b}, {c, dd}})
			if err != nil {
				return nil, fmt.Errorf("temporal %s->%s: %w", triggerLabel, outcomeLabel, err)
			}
			if !stats.IsSignificant(res.PValue, d.cfg.Alpha) {
				continue
			}

			rule := TemporalRule{
				Trigger:  grouping.Characteristic{Type: d.cfg.TriggerType, Label: triggerLabel},
				Outcome:  grouping.Characteristic{Type: d.cfg.OutcomeType, Label: outcomeLabel},
				MinHours: d.cfg.MinHours,
				MaxHours: d.cfg.MaxHours,
			}
			candidates = append(candidates, Candidate{
				Type:        PatternTemporalCorrelation,
				Rule:        Rule{Temporal: &rule},
				Confidence:  a / (a + b),
				Occurrences: int(a),
				PValue:      res.PValue,
				EffectSize:  effect(stats.PhiCoefficient(res.Statistic, a+b+c+dd)),
			})
		}
	}

	sortCandidates(candidates)
	return candidates, nil
}

func (d *TemporalDetector) followed(at time.Time, outcomes []time.Time) bool {
	return anyWithin(outcomes, at.Add(hours(d.cfg.MinHours)), at.Add(hours(d.cfg.MaxHours)), at)
}

// anyWithin reports whether sorted contains a time in [lo, hi] that is
// strictly after not.
func anyWithin(sorted []time.Time, lo, hi, not time.Time) bool {
	i := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Before(lo) })
	for ; i < len(sorted) && !sorted[i].After(hi); i++ {
		if sorted[i].After(not) {
			return true
		}
	}
	return false
}

func timestamps(events []health.Event) []time.Time {
	out := make([]time.Time, len(events))
	for i, e := range events {
		out[i] = e.Timestamp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// sortCandidates orders by p-value, then rule key, so output is stable.
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].PValue != cs[j].PValue {
			return cs[i].PValue < cs[j].PValue
		}
		return cs[i].Rule.Key() < cs[j].Rule.Key()
	})
}
