package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/grouping"
	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/stats"
)

const dateLayout = "2006-01-02"

// CyclicalConfig parameterizes the cyclical detector.
type CyclicalConfig struct {
	// Cycle is the cycle unit. Only CycleWeekly is supported.
	Cycle string
	// Location decides which calendar day an event falls on.
	Location *time.Location
	// EventTypes limits the characteristics examined; empty means all.
	EventTypes     []health.EventType
	MinOccurrences int
	Alpha          float64
}

// CyclicalDetector finds characteristics that occur on one weekday more
// often than that weekday's share of the calendar predicts. Each calendar
// day counts once per characteristic, no matter how many events it holds.
type CyclicalDetector struct {
	cfg CyclicalConfig
}

// NewCyclicalDetector validates cfg and applies defaults.
func NewCyclicalDetector(cfg CyclicalConfig) (*CyclicalDetector, error) {
	if cfg.Cycle == "" {
		cfg.Cycle = CycleWeekly
	}
	if cfg.Cycle != CycleWeekly {
		return nil, fmt.Errorf("%w: unsupported cycle %q", ErrInvalidConfig, cfg.Cycle)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if len(cfg.EventTypes) == 0 {
		cfg.EventTypes = health.AllEventTypes
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = DefaultCyclicalMinOccurrences
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = stats.DefaultAlpha
	}
	return &CyclicalDetector{cfg: cfg}, nil
}

// Type implements Detector.
func (d *CyclicalDetector) Type() PatternType {
	return PatternCyclical
}

// Detect implements Detector.
func (d *CyclicalDetector) Detect(ctx context.Context, events []health.Event, window Window) ([]Candidate, error) {
	inWindow := health.Between(events, window.Start, window.End)
	calendar := weekdayCalendar(window, d.cfg.Location)
	totalDays := 0
	for _, n := range calendar {
		totalDays += n
	}
	if totalDays == 0 {
		return nil, nil
	}

	var candidates []Candidate
	for _, t := range d.cfg.EventTypes {
		groups := grouping.ByCharacteristic(inWindow, t)
		for _, label := range grouping.SortedLabels(groups) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			dates := distinctDates(groups[label], d.cfg.Location)
			var perWeekday [7]int
			for _, wd := range dates {
				perWeekday[wd]++
			}
			n := float64(len(dates))

			for wd := time.Sunday; wd <= time.Saturday; wd++ {
				k := float64(perWeekday[wd])
				if perWeekday[wd] < d.cfg.MinOccurrences || calendar[wd] == 0 {
					continue
				}
				p0 := float64(calendar[wd]) / float64(totalDays)
				if p0 >= 1 || k/n <= p0 {
					continue
				}

				res, err := stats.ChiSquareGoodnessOfFit(
					[]float64{k, n - k},
					[]float64{n * p0, n * (1 - p0)},
				)
				if err != nil {
					return nil, fmt.Errorf("cyclical %s:%s: %w", t, label, err)
				}
				if !stats.IsSignificant(res.PValue, d.cfg.Alpha) {
					continue
				}

				rule := CyclicalRule{
					Cycle:          d.cfg.Cycle,
					Weekday:        wd,
					Characteristic: grouping.Characteristic{Type: t, Label: label},
					Timezone:       d.cfg.Location.String(),
				}
				confidence := k / float64(calendar[wd])
				if confidence > 1 {
					confidence = 1
				}
				candidates = append(candidates, Candidate{
					Type:        PatternCyclical,
					Rule:        Rule{Cyclical: &rule},
					Confidence:  confidence,
					Occurrences: perWeekday[wd],
					PValue:      res.PValue,
					EffectSize:  effect(stats.PhiCoefficient(res.Statistic, n)),
				})
			}
		}
	}

	sortCandidates(candidates)
	return candidates, nil
}

// weekdayCalendar counts the local calendar days in the window per weekday.
func weekdayCalendar(w Window, loc *time.Location) [7]int {
	var out [7]int
	if w.End.Before(w.Start) {
		return out
	}
	day := localMidnight(w.Start, loc)
	last := localMidnight(w.End, loc)
	for !day.After(last) {
		out[day.Weekday()]++
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// distinctDates maps each local date carrying an event to its weekday.
func distinctDates(events []health.Event, loc *time.Location) map[string]time.Weekday {
	out := make(map[string]time.Weekday)
	for _, e := range events {
		local := e.Timestamp.In(loc)
		out[local.Format(dateLayout)] = local.Weekday()
	}
	return out
}

func localMidnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}
