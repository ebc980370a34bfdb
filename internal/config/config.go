// Package config provides configuration loading for patternd.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file
// and PATTERND_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete patternd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Mining    MiningConfig    `koanf:"mining"`
	Surfacing SurfacingConfig `koanf:"surfacing"`
	NATS      NATSConfig      `koanf:"nats"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path string `koanf:"path"` // ":memory:" for an ephemeral database
}

// MiningConfig holds miner and scheduler settings.
type MiningConfig struct {
	Enabled                   bool     `koanf:"enabled"`
	RunHour                   int      `koanf:"run_hour"` // Local hour of the nightly run
	Workers                   int      `koanf:"workers"`
	UserTimeout               Duration `koanf:"user_timeout"`
	Tick                      Duration `koanf:"tick"`
	WindowDays                int      `koanf:"window_days"`
	MinEvents                 int      `koanf:"min_events"`
	ReevaluationDays          int      `koanf:"reevaluation_days"`
	ReevaluationMinConfidence float64  `koanf:"reevaluation_min_confidence"`
}

// SurfacingConfig holds relevance scoring settings.
type SurfacingConfig struct {
	// Thresholds overrides the minimum score per pattern type.
	Thresholds map[string]float64 `koanf:"thresholds"`
	// FrequencyLimits overrides the minimum gap between surfacings.
	FrequencyLimits map[string]Duration `koanf:"frequency_limits"`
}

// NATSConfig holds lifecycle event publishing settings.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	Token         Secret `koanf:"token"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TemporalConfig holds backfill worker settings.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// LoggingConfig holds the logging settings exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure     bool    `koanf:"insecure"`
	ServiceName  string  `koanf:"service_name"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "~/.local/share/patternd/patternd.db",
		},
		Mining: MiningConfig{
			Enabled:                   true,
			RunHour:                   3,
			Workers:                   4,
			UserTimeout:               Duration(5 * time.Minute),
			Tick:                      Duration(time.Minute),
			WindowDays:                90,
			MinEvents:                 50,
			ReevaluationDays:          7,
			ReevaluationMinConfidence: 0.30,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "patterns",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "patternd-mining",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			Insecure:     true,
			ServiceName:  "patternd",
			SamplingRate: 1.0,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path is required"))
	}

	m := c.Mining
	if m.RunHour < 0 || m.RunHour > 23 {
		errs = append(errs, fmt.Errorf("mining.run_hour must be 0-23, got %d", m.RunHour))
	}
	if m.Workers < 1 {
		errs = append(errs, fmt.Errorf("mining.workers must be >= 1, got %d", m.Workers))
	}
	if m.UserTimeout.Duration() <= 0 || m.Tick.Duration() <= 0 {
		errs = append(errs, errors.New("mining.user_timeout and mining.tick must be positive"))
	}
	if m.WindowDays < 1 || m.ReevaluationDays < 1 {
		errs = append(errs, errors.New("mining.window_days and mining.reevaluation_days must be >= 1"))
	}
	if m.MinEvents < 0 {
		errs = append(errs, fmt.Errorf("mining.min_events must be >= 0, got %d", m.MinEvents))
	}
	if m.ReevaluationMinConfidence < 0 || m.ReevaluationMinConfidence > 1 {
		errs = append(errs, fmt.Errorf("mining.reevaluation_min_confidence must be between 0 and 1, got %v", m.ReevaluationMinConfidence))
	}

	for name, v := range c.Surfacing.Thresholds {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("surfacing threshold %q must be between 0 and 100, got %v", name, v))
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if c.Temporal.Enabled && (c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "") {
		errs = append(errs, errors.New("temporal.host_port and temporal.task_queue are required when temporal is enabled"))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" || c.Telemetry.ServiceName == "" {
			errs = append(errs, errors.New("telemetry.endpoint and telemetry.service_name are required when telemetry is enabled"))
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sampling_rate must be between 0 and 1, got %v", c.Telemetry.SamplingRate))
		}
	}

	return errors.Join(errs...)
}
