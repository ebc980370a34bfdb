package health

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// comparators are checked longest first so ">=" wins over ">".
var comparators = []string{">=", "<=", "==", "!=", ">", "<"}

// EventFilter matches events of one type whose attributes satisfy every
// condition. A condition is either an exact value ("pasta", 7, true) or a
// comparator-prefixed numeric bound such as ">=7" or "<500".
//
// For list attributes (foods) an exact condition means "contains".
type EventFilter struct {
	EventType          EventType      `json:"event_type"`
	MetadataConditions map[string]any `json:"metadata_conditions,omitempty"`
}

// NewEventFilter creates a filter for eventType with optional conditions.
func NewEventFilter(eventType EventType, conditions map[string]any) EventFilter {
	return EventFilter{EventType: eventType, MetadataConditions: conditions}
}

// Matches reports whether e satisfies the filter.
func (f EventFilter) Matches(e *Event) bool {
	if e == nil || e.Type != f.EventType {
		return false
	}
	for key, cond := range f.MetadataConditions {
		value, ok := e.Attribute(key)
		if !ok {
			return false
		}
		if !matchCondition(value, cond) {
			return false
		}
	}
	return true
}

// Validate checks that every comparator condition has a numeric bound.
func (f EventFilter) Validate() error {
	if !f.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, f.EventType)
	}
	for key, cond := range f.MetadataConditions {
		s, ok := cond.(string)
		if !ok {
			continue
		}
		if op, rest := splitComparator(s); op != "" {
			if _, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err != nil {
				return fmt.Errorf("condition %q on %q: bound is not numeric", s, key)
			}
		}
	}
	return nil
}

// String renders the filter in a stable, human-readable form. It is also
// used as part of pattern rule keys, so the ordering must stay deterministic.
func (f EventFilter) String() string {
	if len(f.MetadataConditions) == 0 {
		return string(f.EventType)
	}
	keys := make([]string, 0, len(f.MetadataConditions))
	for k := range f.MetadataConditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		cond := fmt.Sprint(f.MetadataConditions[k])
		if op, _ := splitComparator(cond); op != "" {
			parts = append(parts, k+cond)
		} else {
			parts = append(parts, k+"="+strings.ToLower(cond))
		}
	}
	return string(f.EventType) + "[" + strings.Join(parts, ",") + "]"
}

// Describe renders the filter as prose for insight text, e.g.
// "meal with total calories >= 800".
func (f EventFilter) Describe() string {
	if len(f.MetadataConditions) == 0 {
		return string(f.EventType)
	}
	keys := make([]string, 0, len(f.MetadataConditions))
	for k := range f.MetadataConditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		label := strings.ReplaceAll(k, "_", " ")
		cond := fmt.Sprint(f.MetadataConditions[k])
		if op, rest := splitComparator(cond); op != "" {
			parts = append(parts, fmt.Sprintf("%s %s %s", label, op, strings.TrimSpace(rest)))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s", label, strings.ToLower(cond)))
		}
	}
	return fmt.Sprintf("%s with %s", f.EventType, strings.Join(parts, " and "))
}

func splitComparator(s string) (string, string) {
	s = strings.TrimSpace(s)
	for _, op := range comparators {
		if strings.HasPrefix(s, op) {
			return op, s[len(op):]
		}
	}
	return "", s
}

func matchCondition(value, cond any) bool {
	if s, ok := cond.(string); ok {
		if op, rest := splitComparator(s); op != "" {
			bound, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
			if err != nil {
				return false
			}
			n, ok := toFloat(value)
			if !ok {
				return false
			}
			return compare(n, op, bound)
		}
	}

	switch v := value.(type) {
	case []string:
		want := NormalizeLabel(fmt.Sprint(cond))
		for _, item := range v {
			if NormalizeLabel(item) == want {
				return true
			}
		}
		return false
	case string:
		return NormalizeLabel(v) == NormalizeLabel(fmt.Sprint(cond))
	case bool:
		b, ok := cond.(bool)
		if !ok {
			parsed, err := strconv.ParseBool(fmt.Sprint(cond))
			if err != nil {
				return false
			}
			b = parsed
		}
		return v == b
	}

	n, ok := toFloat(value)
	if !ok {
		return false
	}
	want, ok := toFloat(cond)
	if !ok {
		return false
	}
	return n == want
}

func compare(n float64, op string, bound float64) bool {
	switch op {
	case ">=":
		return n >= bound
	case "<=":
		return n <= bound
	case ">":
		return n > bound
	case "<":
		return n < bound
	case "==":
		return n == bound
	case "!=":
		return n != bound
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
