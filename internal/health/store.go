package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventStore is the read side of the external event store.
//
// Implementations return events for the user in [start, end], filtered to
// eventTypes when non-empty, sorted newest first.
type EventStore interface {
	GetHealthEvents(ctx context.Context, userID string, start, end time.Time, eventTypes ...EventType) ([]Event, error)
}

// InMemoryEventStore is an in-memory EventStore for tests and local runs.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]Event // userID -> events
}

// NewInMemoryEventStore creates an empty in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string][]Event)}
}

// Add validates and stores events.
func (s *InMemoryEventStore) Add(events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range events {
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("event %q: %w", events[i].ID, err)
		}
		s.events[events[i].UserID] = append(s.events[events[i].UserID], events[i])
	}
	return nil
}

// GetHealthEvents returns the user's events in range, newest first.
func (s *InMemoryEventStore) GetHealthEvents(ctx context.Context, userID string, start, end time.Time, eventTypes ...EventType) ([]Event, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if start.After(end) {
		return nil, ErrInvalidTimeRange
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Event{}
	for _, e := range s.events[userID] {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		if !typeAllowed(e.Type, eventTypes) {
			continue
		}
		result = append(result, e)
	}
	SortNewestFirst(result)
	return result, nil
}

func typeAllowed(t EventType, allowed []EventType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

// SortNewestFirst sorts events by timestamp descending, breaking ties by ID.
func SortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

// Chronological returns a copy of events sorted oldest first.
func Chronological(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// OfType returns the events whose type is t, preserving order.
func OfType(events []Event, t EventType) []Event {
	out := make([]Event, 0)
	for _, e := range events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Between returns events with start <= timestamp <= end, preserving order.
func Between(events []Event, start, end time.Time) []Event {
	out := make([]Event, 0)
	for _, e := range events {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			out = append(out, e)
		}
	}
	return out
}
