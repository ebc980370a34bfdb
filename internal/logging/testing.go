package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that keeps every entry, down to TraceLevel, in
// memory for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a TestLogger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core)},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message is exactly msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset discards recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

func (t *TestLogger) matching(level zapcore.Level, substr string) []observer.LoggedEntry {
	return t.observed.Filter(func(e observer.LoggedEntry) bool {
		return e.Level == level && strings.Contains(e.Message, substr)
	}).All()
}

// AssertLogged fails unless an entry at level contains substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) bool {
	tb.Helper()
	return assert.NotEmpty(tb, t.matching(level, substr),
		"no %v entry containing %q", level, substr)
}

// AssertNotLogged fails if an entry at level contains substr.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, substr string) bool {
	tb.Helper()
	return assert.Empty(tb, t.matching(level, substr),
		"unexpected %v entry containing %q", level, substr)
}

// AssertField fails unless some entry with message msg has key set to want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) bool {
	tb.Helper()
	var seen []any
	for _, e := range t.observed.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok {
			if assert.ObjectsAreEqual(want, got) {
				return true
			}
			seen = append(seen, got)
		}
	}
	return assert.Fail(tb, "field mismatch",
		"message %q: want %s=%v, saw %v", msg, key, want, seen)
}

// AssertTraceCorrelation fails unless an entry with message msg carries a
// trace_id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) bool {
	tb.Helper()
	return assert.NotEmpty(tb, t.observed.FilterMessage(msg).FilterFieldKey("trace_id").All(),
		"message %q has no trace_id", msg)
}
