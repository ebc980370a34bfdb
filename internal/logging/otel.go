package logging

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const loggerScope = "github.com/fyrsmithlabs/patternd"

// buildCore assembles the output cores: the redacted local writer and, when
// a provider is given, the OTel bridge. OTel never receives entries below
// Info so trace-level detector output stays local.
func buildCore(cfg *Config, provider log.LoggerProvider, out zapcore.WriteSyncer) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc, out, cfg.Level))
	}

	if cfg.Output.OTEL && provider != nil {
		floor := cfg.Level
		if floor < zapcore.InfoLevel {
			floor = zapcore.InfoLevel
		}
		cores = append(cores, &minLevelCore{
			Core:  otelzap.NewCore(loggerScope, otelzap.WithLoggerProvider(provider)),
			floor: floor,
		})
	}

	switch len(cores) {
	case 0:
		return nil, errors.New("no log output enabled")
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}

// minLevelCore drops entries below floor.
type minLevelCore struct {
	zapcore.Core
	floor zapcore.Level
}

func (c *minLevelCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.floor && c.Core.Enabled(lvl)
}

func (c *minLevelCore) With(fields []zapcore.Field) zapcore.Core {
	return &minLevelCore{Core: c.Core.With(fields), floor: c.floor}
}

func (c *minLevelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level < c.floor {
		return ce
	}
	return c.Core.Check(e, ce)
}
