package detection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/stats"
)

// SequenceConfig parameterizes the behavioral sequence detector.
type SequenceConfig struct {
	MinLength      int
	MaxLength      int
	MaxGapHours    float64
	MinOccurrences int
	Alpha          float64
}

// DefaultSequenceConfig returns lengths 2-4, a 24h gap and 5 occurrences.
func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{
		MinLength:      2,
		MaxLength:      4,
		MaxGapHours:    24,
		MinOccurrences: DefaultSequenceMinOccurrences,
	}
}

// SequenceDetector mines ordered chains of consecutive event types. A chain
// is significant when its last step follows its prefix more often than the
// last step follows any other position in the timeline.
type SequenceDetector struct {
	cfg SequenceConfig
}

// NewSequenceDetector validates cfg and applies defaults.
func NewSequenceDetector(cfg SequenceConfig) (*SequenceDetector, error) {
	def := DefaultSequenceConfig()
	if cfg.MinLength == 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.MinLength < 2 || cfg.MaxLength < cfg.MinLength {
		return nil, fmt.Errorf("%w: length bounds [%d, %d]", ErrInvalidConfig, cfg.MinLength, cfg.MaxLength)
	}
	if cfg.MaxGapHours <= 0 {
		cfg.MaxGapHours = def.MaxGapHours
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = def.MinOccurrences
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = stats.DefaultAlpha
	}
	return &SequenceDetector{cfg: cfg}, nil
}

// Type implements Detector.
func (d *SequenceDetector) Type() PatternType {
	return PatternBehavioralSequence
}

// timeline is the type/gap view the sequence code works on.
type timeline struct {
	types []health.EventType
	// linked[k] is true when event k follows event k-1 within the max gap.
	linked []bool
}

func newTimeline(ordered []health.Event, maxGapHours float64) timeline {
	maxGap := hours(maxGapHours)
	tl := timeline{
		types:  make([]health.EventType, len(ordered)),
		linked: make([]bool, len(ordered)),
	}
	for k, e := range ordered {
		tl.types[k] = e.Type
		if k > 0 {
			tl.linked[k] = e.Timestamp.Sub(ordered[k-1].Timestamp) <= maxGap
		}
	}
	return tl
}

// matchesAt reports whether steps occupy positions [end-len+1, end] as a
// linked chain.
func (tl timeline) matchesAt(steps []health.EventType, end int) bool {
	start := end - len(steps) + 1
	if start < 0 || end >= len(tl.types) {
		return false
	}
	for i, s := range steps {
		k := start + i
		if tl.types[k] != s {
			return false
		}
		if i > 0 && !tl.linked[k] {
			return false
		}
	}
	return true
}

// Detect implements Detector.
func (d *SequenceDetector) Detect(ctx context.Context, events []health.Event, window Window) ([]Candidate, error) {
	ordered := health.Chronological(health.Between(events, window.Start, window.End))
	tl := newTimeline(ordered, d.cfg.MaxGapHours)

	counts := make(map[string]int)
	chains := make(map[string][]health.EventType)
	for i := range tl.types {
		for length := d.cfg.MinLength; length <= d.cfg.MaxLength; length++ {
			end := i + length - 1
			if end >= len(tl.types) || !tl.linked[end] {
				break
			}
			steps := tl.types[i : end+1]
			if uniform(steps) {
				continue
			}
			key := chainKey(steps)
			if _, ok := chains[key]; !ok {
				chains[key] = append([]health.EventType(nil), steps...)
			}
			counts[key]++
		}
	}

	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n >= d.cfg.MinOccurrences {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var candidates []Candidate
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		steps := chains[key]
		c, ok, err := d.evaluate(tl, steps)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, c)
		}
	}

	sortCandidates(candidates)
	return candidates, nil
}

func (d *SequenceDetector) evaluate(tl timeline, steps []health.EventType) (Candidate, bool, error) {
	prefix := steps[:len(steps)-1]
	last := steps[len(steps)-1]

	var a, b, c, dd float64
	for k := 0; k < len(tl.types)-1; k++ {
		matched := tl.matchesAt(prefix, k)
		followed := tl.types[k+1] == last && tl.linked[k+1]
		switch {
		case matched && followed:
			a++
		case matched:
			b++
		case followed:
			c++
		default:
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
		return Candidate{}, false, fmt.Errorf("sequence %s: %w", chainKey(steps), err)
	}
	if !stats.IsSignificant(res.PValue, d.cfg.Alpha) {
		return Candidate{}, false, nil
	}

	rule := SequenceRule{
		Steps:       append([]health.EventType(nil), steps...),
		MaxGapHours: d.cfg.MaxGapHours,
	}
	return Candidate{
		Type:        PatternBehavioralSequence,
		Rule:        Rule{Sequence: &rule},
		Confidence:  a / (a + b),
		Occurrences: int(a),
		PValue:      res.PValue,
		EffectSize:  effect(stats.PhiCoefficient(res.Statistic, a+b+c+dd)),
	}, true, nil
}

func uniform(steps []health.EventType) bool {
	for _, s := range steps[1:] {
		if s != steps[0] {
			return false
		}
	}
	return true
}

func chainKey(steps []health.EventType) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}
