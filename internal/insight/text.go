package insight

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/health"
)

// HighImpactThreshold marks insights worth prefixing as high impact.
const HighImpactThreshold = 70.0

// ActionableInsight renders a one-paragraph insight for the candidate.
func ActionableInsight(c detection.Candidate, impact float64) string {
	var text string
	r := c.Rule
	switch {
	case r.Temporal != nil:
		text = temporalInsight(c, r.Temporal)
	case r.Multifactor != nil:
		text = multifactorInsight(c, r.Multifactor)
	case r.Sequence != nil:
		text = sequenceInsight(c, r.Sequence)
	case r.Cyclical != nil:
		text = cyclicalInsight(c, r.Cyclical)
	case r.Semantic != nil:
		text = fmt.Sprintf("Entries about %s tend to cluster together.", r.Semantic.Theme)
	default:
		return ""
	}

	if impact >= HighImpactThreshold {
		return "High impact: " + text
	}
	return text
}

func temporalInsight(c detection.Candidate, r *detection.TemporalRule) string {
	return fmt.Sprintf(
		"%s often follows %s within %s hours (%d times, %s of the time). Try adjusting %s and see whether %s eases.",
		capitalize(r.Outcome.Describe()),
		r.Trigger.Describe(),
		hourRange(r.MinHours, r.MaxHours),
		c.Occurrences,
		percent(c.Confidence),
		r.Trigger.Describe(),
		r.Outcome.Describe(),
	)
}

func multifactorInsight(c detection.Candidate, r *detection.MultifactorRule) string {
	factors := make([]string, len(r.Factors))
	for i, f := range r.Factors {
		factors[i] = f.Describe()
	}
	return fmt.Sprintf(
		"%s is more likely when %s all happen on the same day (%d times, %s of the time). Addressing any one of these factors may help.",
		capitalize(r.Outcome.Describe()),
		joinAnd(factors),
		c.Occurrences,
		percent(c.Confidence),
	)
}

func sequenceInsight(c detection.Candidate, r *detection.SequenceRule) string {
	steps := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = string(s)
	}
	return fmt.Sprintf(
		"You often go from %s (%d times). Changing the first step, %s, may break the chain.",
		strings.Join(steps, " to "),
		c.Occurrences,
		steps[0],
	)
}

func cyclicalInsight(c detection.Candidate, r *detection.CyclicalRule) string {
	return fmt.Sprintf(
		"%s shows up more often on %ss (%d times, a %s pattern). Planning ahead for %ss may help.",
		capitalize(r.Characteristic.Describe()),
		r.Weekday,
		c.Occurrences,
		r.Cycle,
		r.Weekday,
	)
}

func hourRange(lo, hi float64) string {
	return fmt.Sprintf("%g–%g", lo, hi)
}

func percent(p float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(p*100)))
}

func joinAnd(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// TriggerTypes lists the event types whose recent occurrence makes the
// pattern contextually relevant.
func TriggerTypes(rule detection.Rule) []health.EventType {
	switch {
	case rule.Temporal != nil:
		return []health.EventType{rule.Temporal.Trigger.Type}
	case rule.Multifactor != nil:
		out := make([]health.EventType, 0, len(rule.Multifactor.Factors))
		for _, f := range rule.Multifactor.Factors {
			out = append(out, f.EventType)
		}
		return out
	case rule.Sequence != nil && len(rule.Sequence.Steps) > 0:
		return []health.EventType{rule.Sequence.Steps[0]}
	default:
		return nil
	}
}
