package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/stats"
)

// Factor combination bounds.
const (
	MinFactors = 2
	MaxFactors = 4
)

// MultifactorConfig parameterizes a multi-factor detector.
type MultifactorConfig struct {
	// Factors is the pool combinations are drawn from.
	Factors []health.EventFilter
	// Outcome is the filter the combination must precede.
	Outcome        health.EventFilter
	WindowHours    float64
	LagHours       float64
	MinOccurrences int
	Alpha          float64
}

// DefaultMultifactorConfig returns the factor pool used by nightly mining:
// poor sleep, high stress, heavy meals and low mood against any symptom.
func DefaultMultifactorConfig() MultifactorConfig {
	return MultifactorConfig{
		Factors: []health.EventFilter{
			health.NewEventFilter(health.EventSleep, map[string]any{health.AttrSleepQuality: "<=4"}),
			health.NewEventFilter(health.EventStress, map[string]any{health.AttrStressLevel: ">=7"}),
			health.NewEventFilter(health.EventMeal, map[string]any{health.AttrTotalCalories: ">=800"}),
			health.NewEventFilter(health.EventMood, map[string]any{health.AttrMoodRating: "<=4"}),
		},
		Outcome:        health.NewEventFilter(health.EventSymptom, nil),
		WindowHours:    24,
		LagHours:       24,
		MinOccurrences: DefaultMultifactorMinOccurrences,
	}
}

// MultifactorDetector tests combinations of 2 to 4 factors. The analysis
// range is cut into consecutive windows aligned to multiples of the window
// size (UTC midnight for daily windows), so replays line up. A window
// is exposed when every factor matches at least one event inside it; it is a
// hit when the outcome follows the last factor within LagHours. Unexposed
// windows form the baseline.
type MultifactorDetector struct {
	cfg MultifactorConfig
}

// NewMultifactorDetector validates cfg and applies defaults.
func NewMultifactorDetector(cfg MultifactorConfig) (*MultifactorDetector, error) {
	if len(cfg.Factors) < MinFactors {
		return nil, fmt.Errorf("%w: need at least %d factors, got %d", ErrInvalidConfig, MinFactors, len(cfg.Factors))
	}
	for _, f := range cfg.Factors {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%w: factor %s: %v", ErrInvalidConfig, f, err)
		}
	}
	if err := cfg.Outcome.Validate(); err != nil {
		return nil, fmt.Errorf("%w: outcome: %v", ErrInvalidConfig, err)
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 24
	}
	if cfg.LagHours <= 0 {
		cfg.LagHours = cfg.WindowHours
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = DefaultMultifactorMinOccurrences
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = stats.DefaultAlpha
	}
	return &MultifactorDetector{cfg: cfg}, nil
}

// Type implements Detector.
func (d *MultifactorDetector) Type() PatternType {
	return PatternMultifactor
}

// Detect implements Detector.
func (d *MultifactorDetector) Detect(ctx context.Context, events []health.Event, window Window) ([]Candidate, error) {
	ordered := health.Chronological(events)
	outcomes := matchTimes(ordered, d.cfg.Outcome)
	if len(outcomes) == 0 {
		return nil, nil
	}

	// firstMatch[f][w] is the first time factor f matched in window w.
	windows := splitWindows(window, hours(d.cfg.WindowHours), hours(d.cfg.LagHours))
	firstMatch := make([][]time.Time, len(d.cfg.Factors))
	for f, filter := range d.cfg.Factors {
		firstMatch[f] = firstMatchPerWindow(ordered, filter, windows)
	}

	var candidates []Candidate
	maxSize := MaxFactors
	if len(d.cfg.Factors) < maxSize {
		maxSize = len(d.cfg.Factors)
	}
	for size := MinFactors; size <= maxSize; size++ {
		for _, combo := range combinations(len(d.cfg.Factors), size) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c, ok, err := d.evaluate(combo, windows, firstMatch, outcomes)
			if err != nil {
				return nil, err
			}
			if ok {
				candidates = append(candidates, c)
			}
		}
	}

	sortCandidates(candidates)
	return candidates, nil
}

func (d *MultifactorDetector) evaluate(combo []int, windows []timeRange, firstMatch [][]time.Time, outcomes []time.Time) (Candidate, bool, error) {
	lag := hours(d.cfg.LagHours)
	var a, b, c, dd float64
	for w, win := range windows {
		last, exposed := lastFactor(combo, firstMatch, w)
		if exposed {
			if anyWithin(outcomes, last, last.Add(lag), last) {
				a++
			} else {
				b++
			}
			continue
		}
		if anyWithin(outcomes, win.start, win.end.Add(lag), win.start.Add(-time.Nanosecond)) {
			c++
		} else {
			dd++
		}
	}

	if int(a) < d.cfg.MinOccurrences {
		return Candidate{}, false, nil
	}
	if c+dd > 0 && a/(a+b) <= c/(c+dd) {
		return Candidate{}, false, nil
	}
	res, err := stats.ChiSquareTest([][]float64{{a, b}, {c, dd}})
	if err != nil {
		return Candidate{}, false, fmt.Errorf("multifactor: %w", err)
	}
	if !stats.IsSignificant(res.PValue, d.cfg.Alpha) {
		return Candidate{}, false, nil
	}

	factors := make([]health.EventFilter, len(combo))
	for i, f := range combo {
		factors[i] = d.cfg.Factors[f]
	}
	rule := MultifactorRule{
		Factors:     factors,
		Outcome:     d.cfg.Outcome,
		WindowHours: d.cfg.WindowHours,
		LagHours:    d.cfg.LagHours,
	}
	return Candidate{
		Type:        PatternMultifactor,
		Rule:        Rule{Multifactor: &rule},
		Confidence:  a / (a + b),
		Occurrences: int(a),
		PValue:      res.PValue,
		EffectSize:  effect(stats.PhiCoefficient(res.Statistic, a+b+c+dd)),
	}, true, nil
}

// lastFactor returns the latest first-match among the combo's factors in
// window w, and whether every factor matched.
func lastFactor(combo []int, firstMatch [][]time.Time, w int) (time.Time, bool) {
	var last time.Time
	for _, f := range combo {
		t := firstMatch[f][w]
		if t.IsZero() {
			return time.Time{}, false
		}
		if t.After(last) {
			last = t
		}
	}
	return last, true
}

type timeRange struct {
	start time.Time
	end   time.Time
}

// splitWindows cuts w into aligned windows of size, dropping windows
// whose outcome lag would run past the end of the analysis range.
func splitWindows(w Window, size, lag time.Duration) []timeRange {
	var out []timeRange
	for start := w.Start.Truncate(size); start.Before(w.End); start = start.Add(size) {
		end := start.Add(size)
		if start.Before(w.Start) || end.Add(lag).After(w.End) {
			continue
		}
		out = append(out, timeRange{start: start, end: end})
	}
	return out
}

func firstMatchPerWindow(ordered []health.Event, filter health.EventFilter, windows []timeRange) []time.Time {
	out := make([]time.Time, len(windows))
	i := 0
	for w, win := range windows {
		for i < len(ordered) && ordered[i].Timestamp.Before(win.start) {
			i++
		}
		for j := i; j < len(ordered) && ordered[j].Timestamp.Before(win.end); j++ {
			if filter.Matches(&ordered[j]) {
				out[w] = ordered[j].Timestamp
				break
			}
		}
	}
	return out
}

func matchTimes(ordered []health.Event, filter health.EventFilter) []time.Time {
	var out []time.Time
	for i := range ordered {
		if filter.Matches(&ordered[i]) {
			out = append(out, ordered[i].Timestamp)
		}
	}
	return out
}

// combinations returns every k-subset of [0, n) in lexical order.
func combinations(n, k int) [][]int {
	var out [][]int
	combo := make([]int, k)
	var rec func(start, depth int)
	rec = func(start, depth int) {
		if depth == k {
			out = append(out, append([]int(nil), combo...))
			return
		}
		for i := start; i <= n-(k-depth); i++ {
			combo[depth] = i
			rec(i+1, depth+1)
		}
	}
	rec(0, 0)
	return out
}
