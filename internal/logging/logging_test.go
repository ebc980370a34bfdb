package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/patternd/internal/config"
)

func newBufferLogger(t *testing.T, mutate func(cfg *Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	logger, err := newLogger(cfg, nil, zapcore.AddSync(&buf))
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"format", func(c *Config) { c.Format = "xml" }},
		{"no output", func(c *Config) { c.Output.Stdout = false }},
		{"sampling tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"caller skip", func(c *Config) { c.Caller.Skip = -1 }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"env": ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "trace", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = LevelFromString("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	_, err = LevelFromString("verbose")
	assert.Error(t, err)
}

func TestLogger_JSONOutput(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	ctx := WithUserID(context.Background(), "user-42")
	ctx = WithRunID(ctx, "run-7")
	logger.Info(ctx, "mining cycle completed", zap.Int("new_patterns", 2))
	logger.Debug(ctx, "filtered out at info level")
	require.NoError(t, logger.Sync())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "mining cycle completed", line["msg"])
	assert.Equal(t, "patternd", line["service"])
	assert.Equal(t, "user-42", line["user_id"])
	assert.Equal(t, "run-7", line["run_id"])
	assert.EqualValues(t, 2, line["new_patterns"])
	assert.Contains(t, line, "ts")
}

func TestLogger_Redaction(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	ctx := context.Background()
	logger.Info(ctx, "connecting",
		zap.String("token", "abc123"),
		zap.String("header", "Bearer eyJhbGciOi"),
		Secret("nats_token", config.Secret("hunter2")),
		zap.String("url", "nats://127.0.0.1:4222"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["token"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["header"])
	assert.Equal(t, "[REDACTED:7]", lines[0]["nats_token"])
	assert.Equal(t, "nats://127.0.0.1:4222", lines[0]["url"])
}

func TestLogger_TraceLevelName(t *testing.T) {
	logger, buf := newBufferLogger(t, func(cfg *Config) {
		cfg.Level = TraceLevel
		cfg.Fields = map[string]string{"env": "test"}
	})

	logger.Trace(context.Background(), "candidate rejected", zap.String("detector", "sequence"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
	assert.Equal(t, "test", lines[0]["env"])
	assert.True(t, logger.Enabled(TraceLevel))
}

func TestMinLevelCore(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	floored := &minLevelCore{Core: core, floor: zapcore.InfoLevel}
	assert.False(t, floored.Enabled(zapcore.DebugLevel))
	assert.True(t, floored.Enabled(zapcore.WarnLevel))

	z := zap.New(floored).With(zap.String("component", "miner"))
	z.Log(TraceLevel, "candidate rejected")
	z.Debug("detector finished")
	z.Info("mining cycle completed")

	require.Equal(t, 1, observed.Len())
	entry := observed.All()[0]
	assert.Equal(t, "mining cycle completed", entry.Message)
	assert.Equal(t, "miner", entry.ContextMap()["component"])
}

func TestLogger_ErrorsAreNeverSampled(t *testing.T) {
	logger, buf := newBufferLogger(t, func(cfg *Config) {
		cfg.Sampling.Enabled = true
		cfg.Sampling.Initial = 1
		cfg.Sampling.Thereafter = 0
		cfg.Stacktrace = zapcore.FatalLevel
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		logger.Info(ctx, "repeated")
		logger.Error(ctx, "mining cycle failed", zap.Error(errors.New("boom")))
	}

	var info, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "repeated":
			info++
		case "mining cycle failed":
			errs++
		}
	}
	assert.Equal(t, 1, info)
	assert.Equal(t, 5, errs)
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	tp := trace.NewTracerProvider(trace.WithSampler(trace.AlwaysSample()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "mining.cycle")
	defer span.End()
	ctx = WithRequestID(ctx, "req-1")

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
	assert.True(t, keys["request_id"])
	assert.False(t, keys["user_id"])
}

func TestLogger_ContextIDs(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(WithUserID(context.Background(), "user-1"), "run-1")
	tl.Warn(ctx, "cycle slow")

	tl.AssertLogged(t, zapcore.WarnLevel, "cycle slow")
	tl.AssertField(t, "cycle slow", "user_id", "user-1")
	tl.AssertField(t, "cycle slow", "run_id", "run-1")
	assert.Equal(t, "user-1", UserIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	tp := trace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithUserID(ctx, "user-1")

	tl.Trace(ctx, "detector decision", zap.String("detector", "cyclical"))
	tl.Info(ctx, "pattern surfaced", zap.Float64("score", 71.5))

	tl.AssertLogged(t, TraceLevel, "detector decision")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "pattern surfaced")
	tl.AssertField(t, "pattern surfaced", "user_id", "user-1")
	tl.AssertField(t, "pattern surfaced", "score", 71.5)
	tl.AssertTraceCorrelation(t, "pattern surfaced")
	assert.Len(t, tl.All(), 2)
	assert.Equal(t, 1, tl.FilterMessage("pattern surfaced").Len())

	named := tl.Named("miner").With(zap.String("component", "scheduler"))
	named.Info(ctx, "child")
	tl.AssertField(t, "child", "component", "scheduler")

	tl.Reset()
	assert.Empty(t, tl.All())
	assert.Same(t, tl.Logger.zap, tl.Underlying())
}
