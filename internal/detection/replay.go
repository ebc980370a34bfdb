package detection

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/grouping"
	"github.com/fyrsmithlabs/patternd/internal/health"
)

// Observation is one confirm or disconfirm instance found by replaying a
// rule over fresh events.
type Observation struct {
	// Anchor identifies the instance (trigger event ID, window start, date)
	// so that overlapping replays yield the same anchor.
	Anchor    string    `json:"anchor"`
	Timestamp time.Time `json:"timestamp"`
	Positive  bool      `json:"positive"`
	Context   string    `json:"context"`
}

// Replay applies the rule to events in [start, end]. Only instances whose
// outcome window has fully elapsed by end are reported. Semantic rules have
// no replay and return nil.
func (r Rule) Replay(events []health.Event, start, end time.Time) []Observation {
	ordered := health.Chronological(health.Between(events, start, end))
	switch {
	case r.Temporal != nil:
		return replayTemporal(r.Temporal, ordered, end)
	case r.Multifactor != nil:
		return replayMultifactor(r.Multifactor, ordered, start, end)
	case r.Sequence != nil:
		return replaySequence(r.Sequence, ordered, end)
	case r.Cyclical != nil:
		return replayCyclical(r.Cyclical, ordered, start, end)
	default:
		return nil
	}
}

func replayTemporal(rule *TemporalRule, ordered []health.Event, end time.Time) []Observation {
	var outcomes []time.Time
	for i := range ordered {
		if grouping.Has(&ordered[i], rule.Outcome) {
			outcomes = append(outcomes, ordered[i].Timestamp)
		}
	}

	var out []Observation
	for i := range ordered {
		e := &ordered[i]
		if !grouping.Has(e, rule.Trigger) {
			continue
		}
		if e.Timestamp.Add(hours(rule.MaxHours)).After(end) {
			continue
		}
		hit := anyWithin(outcomes, e.Timestamp.Add(hours(rule.MinHours)), e.Timestamp.Add(hours(rule.MaxHours)), e.Timestamp)
		verb := "followed"
		if !hit {
			verb = "not followed"
		}
		out = append(out, Observation{
			Anchor:    e.ID,
			Timestamp: e.Timestamp,
			Positive:  hit,
			Context: fmt.Sprintf("%s at %s %s by %s within %g-%g hours",
				rule.Trigger.Describe(), e.Timestamp.Format(time.RFC3339), verb,
				rule.Outcome.Describe(), rule.MinHours, rule.MaxHours),
		})
	}
	return out
}

func replayMultifactor(rule *MultifactorRule, ordered []health.Event, start, end time.Time) []Observation {
	outcomes := matchTimes(ordered, rule.Outcome)
	windows := splitWindows(Window{Start: start, End: end}, hours(rule.WindowHours), hours(rule.LagHours))
	combo := make([]int, len(rule.Factors))
	firstMatch := make([][]time.Time, len(rule.Factors))
	for f, filter := range rule.Factors {
		combo[f] = f
		firstMatch[f] = firstMatchPerWindow(ordered, filter, windows)
	}

	var out []Observation
	for w, win := range windows {
		last, exposed := lastFactor(combo, firstMatch, w)
		if !exposed {
			continue
		}
		hit := anyWithin(outcomes, last, last.Add(hours(rule.LagHours)), last)
		verb := "followed"
		if !hit {
			verb = "not followed"
		}
		out = append(out, Observation{
			Anchor:    win.start.UTC().Format(time.RFC3339),
			Timestamp: last,
			Positive:  hit,
			Context:   fmt.Sprintf("all %d factors present on %s, %s by %s", len(rule.Factors), win.start.Format(dateLayout), verb, rule.Outcome.Describe()),
		})
	}
	return out
}

func replaySequence(rule *SequenceRule, ordered []health.Event, end time.Time) []Observation {
	if len(rule.Steps) < 2 {
		return nil
	}
	tl := newTimeline(ordered, rule.MaxGapHours)
	prefix := rule.Steps[:len(rule.Steps)-1]
	last := rule.Steps[len(rule.Steps)-1]
	maxGap := hours(rule.MaxGapHours)

	var out []Observation
	for k := range tl.types {
		if !tl.matchesAt(prefix, k) {
			continue
		}
		hit := k+1 < len(tl.types) && tl.types[k+1] == last && tl.linked[k+1]
		// An unfollowed prefix is only a miss once the gap has run out.
		if !hit && k+1 == len(tl.types) && ordered[k].Timestamp.Add(maxGap).After(end) {
			continue
		}
		ids := make([]string, len(prefix))
		for i := range prefix {
			ids[i] = ordered[k-len(prefix)+1+i].ID
		}
		verb := "completed"
		if !hit {
			verb = "broken"
		}
		out = append(out, Observation{
			Anchor:    strings.Join(ids, ","),
			Timestamp: ordered[k].Timestamp,
			Positive:  hit,
			Context:   fmt.Sprintf("sequence %s %s after %s", chainKey(rule.Steps), verb, chainKey(prefix)),
		})
	}
	return out
}

func replayCyclical(rule *CyclicalRule, ordered []health.Event, start, end time.Time) []Observation {
	loc, _ := LoadLocation(rule.Timezone)

	seen := make(map[string]bool)
	for i := range ordered {
		if grouping.Has(&ordered[i], rule.Characteristic) {
			seen[ordered[i].Timestamp.In(loc).Format(dateLayout)] = true
		}
	}

	var out []Observation
	day := localMidnight(start, loc)
	if day.Before(start) {
		day = day.AddDate(0, 0, 1)
	}
	for ; !day.AddDate(0, 0, 1).After(end); day = day.AddDate(0, 0, 1) {
		if day.Weekday() != rule.Weekday {
			continue
		}
		date := day.Format(dateLayout)
		hit := seen[date]
		verb := "occurred"
		if !hit {
			verb = "did not occur"
		}
		out = append(out, Observation{
			Anchor:    date,
			Timestamp: day,
			Positive:  hit,
			Context:   fmt.Sprintf("%s %s on %s %s", rule.Characteristic.Describe(), verb, rule.Weekday, date),
		})
	}
	return out
}
