package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temporary directory and returns the
// patternd config directory inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "patternd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Mining.RunHour != 3 {
		t.Errorf("Mining.RunHour = %d, want 3", cfg.Mining.RunHour)
	}
	if cfg.Mining.UserTimeout.Duration() != 5*time.Minute {
		t.Errorf("Mining.UserTimeout = %v, want 5m", cfg.Mining.UserTimeout.Duration())
	}
	if cfg.Mining.ReevaluationMinConfidence != 0.30 {
		t.Errorf("Mining.ReevaluationMinConfidence = %v, want 0.30", cfg.Mining.ReevaluationMinConfidence)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"run hour", func(c *Config) { c.Mining.RunHour = 24 }, "run_hour"},
		{"workers", func(c *Config) { c.Mining.Workers = 0 }, "workers"},
		{"timeout", func(c *Config) { c.Mining.UserTimeout = 0 }, "user_timeout"},
		{"confidence", func(c *Config) { c.Mining.ReevaluationMinConfidence = 1.5 }, "reevaluation_min_confidence"},
		{"threshold", func(c *Config) { c.Surfacing.Thresholds = map[string]float64{"cyclical_pattern": 120} }, "surfacing threshold"},
		{"nats url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, "nats.url"},
		{"temporal", func(c *Config) { c.Temporal.Enabled = true; c.Temporal.TaskQueue = "" }, "temporal"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"sampling", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.SamplingRate = 2 }, "sampling_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  port: 8181
mining:
  run_hour: 4
  user_timeout: 2m
  workers: 8
surfacing:
  thresholds:
    cyclical_pattern: 75
  frequency_limits:
    temporal_correlation: 12h
    cyclical_pattern: 7d
nats:
  enabled: true
  url: nats://broker:4222
  token: s3cret
`, 0600)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want 8181", cfg.Server.Port)
	}
	if cfg.Mining.RunHour != 4 || cfg.Mining.Workers != 8 {
		t.Errorf("Mining = %+v, want run_hour 4 and 8 workers", cfg.Mining)
	}
	if cfg.Mining.UserTimeout.Duration() != 2*time.Minute {
		t.Errorf("Mining.UserTimeout = %v, want 2m", cfg.Mining.UserTimeout.Duration())
	}
	// Unset keys keep their defaults.
	if cfg.Mining.WindowDays != 90 {
		t.Errorf("Mining.WindowDays = %d, want default 90", cfg.Mining.WindowDays)
	}
	if cfg.Surfacing.Thresholds["cyclical_pattern"] != 75 {
		t.Errorf("Surfacing.Thresholds = %v", cfg.Surfacing.Thresholds)
	}
	if cfg.Surfacing.FrequencyLimits["temporal_correlation"].Duration() != 12*time.Hour {
		t.Errorf("Surfacing.FrequencyLimits = %v", cfg.Surfacing.FrequencyLimits)
	}
	if cfg.Surfacing.FrequencyLimits["cyclical_pattern"].Duration() != 7*24*time.Hour {
		t.Errorf("cyclical_pattern limit = %v, want 7d", cfg.Surfacing.FrequencyLimits["cyclical_pattern"])
	}
	if cfg.NATS.Token.Value() != "s3cret" || cfg.NATS.Token.String() != "[REDACTED]" {
		t.Errorf("NATS.Token not loaded or not redacted")
	}
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  port: 8181
mining:
  min_events: 20
`, 0600)

	t.Setenv("PATTERND_SERVER_PORT", "7777")
	t.Setenv("PATTERND_MINING_MIN_EVENTS", "75")
	t.Setenv("PATTERND_NATS_SUBJECT_PREFIX", "health.patterns")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env override)", cfg.Server.Port)
	}
	if cfg.Mining.MinEvents != 75 {
		t.Errorf("Mining.MinEvents = %d, want 75 (from env override)", cfg.Mining.MinEvents)
	}
	if cfg.NATS.SubjectPrefix != "health.patterns" {
		t.Errorf("NATS.SubjectPrefix = %q, want health.patterns", cfg.NATS.SubjectPrefix)
	}
}

func TestLoadWithFile_EnvironmentMapKeys(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "surfacing:\n  thresholds:\n    cyclical_pattern: 75\n", 0600)

	t.Setenv("PATTERND_CONFIG", path)
	t.Setenv("PATTERND_SURFACING_THRESHOLDS_SEQUENCE_PATTERN", "55")
	t.Setenv("PATTERND_SURFACING_FREQUENCY_LIMITS_CYCLICAL_PATTERN", "3d")

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Surfacing.Thresholds["cyclical_pattern"] != 75 {
		t.Errorf("cyclical_pattern threshold = %v, want 75 from file", cfg.Surfacing.Thresholds["cyclical_pattern"])
	}
	if cfg.Surfacing.Thresholds["sequence_pattern"] != 55 {
		t.Errorf("sequence_pattern threshold = %v, want 55 from env", cfg.Surfacing.Thresholds["sequence_pattern"])
	}
	if got := cfg.Surfacing.FrequencyLimits["cyclical_pattern"].Duration(); got != 72*time.Hour {
		t.Errorf("cyclical_pattern limit = %v, want 72h", got)
	}
}

func TestLoadWithFile_MissingFile(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile() should not error on missing file, got: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadWithFile_Rejections(t *testing.T) {
	t.Run("outside allowed dirs", func(t *testing.T) {
		setupTestHome(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		if _, err := LoadWithFile(path); err == nil {
			t.Error("LoadWithFile() should reject paths outside the config dirs")
		}
	})

	t.Run("world readable", func(t *testing.T) {
		dir := setupTestHome(t)
		path := writeConfig(t, dir, "server:\n  port: 8181\n", 0644)
		if _, err := LoadWithFile(path); err == nil {
			t.Error("LoadWithFile() should reject 0644 config files")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir := setupTestHome(t)
		path := writeConfig(t, dir, "server:\n  port: [\n", 0600)
		if _, err := LoadWithFile(path); err == nil {
			t.Error("LoadWithFile() should error on invalid YAML")
		}
	})

	t.Run("fails validation", func(t *testing.T) {
		dir := setupTestHome(t)
		path := writeConfig(t, dir, "mining:\n  workers: 0\n", 0600)
		if _, err := LoadWithFile(path); err == nil {
			t.Error("LoadWithFile() should return validation errors")
		}
	})
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"PATTERND_SERVER_PORT":                                 "server.port",
		"PATTERND_MINING_REEVALUATION_MIN_CONFIDENCE":          "mining.reevaluation_min_confidence",
		"PATTERND_DEBUG":                                       "debug",
		"PATTERND_SURFACING_THRESHOLDS_CYCLICAL_PATTERN":       "surfacing.thresholds.cyclical_pattern",
		"PATTERND_SURFACING_FREQUENCY_LIMITS_SEQUENCE_PATTERN": "surfacing.frequency_limits.sequence_pattern",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	got, err := ExpandPath("~/data/patternd.db")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/home/tester/data/patternd.db" {
		t.Errorf("ExpandPath() = %q", got)
	}
	if got, _ := ExpandPath(":memory:"); got != ":memory:" {
		t.Errorf("ExpandPath(:memory:) = %q", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90s", 90 * time.Second, false},
		{"3d", 72 * time.Hour, false},
		{" 1d ", 24 * time.Hour, false},
		{"-1d", 0, true},
		{"-5m", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got.Duration() != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got.Duration(), tt.want)
		}
	}

	if s := Duration(48 * time.Hour).String(); s != "2d" {
		t.Errorf("String() = %q, want 2d", s)
	}
	if s := Duration(90 * time.Minute).String(); s != "1h30m0s" {
		t.Errorf("String() = %q, want 1h30m0s", s)
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")
	if s.String() != "[REDACTED]" {
		t.Errorf("String() = %q", s.String())
	}
	b, err := s.MarshalJSON()
	if err != nil || string(b) != `"[REDACTED]"` {
		t.Errorf("MarshalJSON() = %s, %v", b, err)
	}
	if !s.IsSet() || Secret("").IsSet() {
		t.Error("IsSet() mismatch")
	}
}
