package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and carries per-candidate detector output.
const TraceLevel = zapcore.Level(zapcore.DebugLevel - 1)

// LevelFromString parses a level name. Case and surrounding space are
// ignored and "trace" maps to TraceLevel.
func LevelFromString(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "trace":
		return TraceLevel, nil
	case "":
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(level)
}
