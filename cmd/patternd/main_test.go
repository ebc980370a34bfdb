package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/mining"
)

// setupEnv isolates HOME and points the database at a temporary file.
func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PATTERND_DATABASE_PATH", filepath.Join(t.TempDir(), "patternd.db"))
	t.Setenv("PATTERND_LOGGING_LEVEL", "error")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestImportAndMine(t *testing.T) {
	setupEnv(t)

	now := time.Now().UTC()
	events := fmt.Sprintf(`[
		{"id":"e1","event_type":"meal","timestamp":%q,"meal":{"foods":["pasta"],"total_calories":700}},
		{"id":"e2","event_type":"symptom","timestamp":%q,"symptom":{"symptom":"headache","severity":6}},
		{"id":"e3","event_type":"sleep","timestamp":%q,"sleep":{"sleep_quality_rating":4,"total_sleep_hours":5.5}}
	]`,
		now.Add(-48*time.Hour).Format(time.RFC3339),
		now.Add(-40*time.Hour).Format(time.RFC3339),
		now.Add(-24*time.Hour).Format(time.RFC3339))

	out, err := execute(t, events, "import", "--user", "u-1", "--timezone", "Europe/Berlin", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 events for u-1")

	// Re-importing is idempotent.
	out, err = execute(t, events, "import", "--user", "u-1", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 0 events")

	out, err = execute(t, "", "mine", "--user", "u-1")
	require.NoError(t, err)

	var summary mining.CycleSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "u-1", summary.UserID)
	assert.Equal(t, 3, summary.EventsAnalyzed)
	assert.True(t, summary.Skipped, "three events is below the default minimum")
}

func TestImport_Rejections(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "[]", "import", "-")
	assert.Error(t, err, "--user is required")

	_, err = execute(t, "[]", "import", "--user", "a/b", "-")
	assert.Error(t, err, "user IDs are validated")

	_, err = execute(t, "not json", "import", "--user", "u-1", "-")
	assert.Error(t, err)

	_, err = execute(t, `[{"id":"e1","user_id":"u-2","event_type":"mood","timestamp":"2026-01-01T00:00:00Z","mood":{"mood_rating":3}}]`,
		"import", "--user", "u-1", "-")
	assert.Error(t, err, "events of another user are rejected")

	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"e1","event_type":"meal","timestamp":"2026-01-01T00:00:00Z"}]`), 0600))
	_, err = execute(t, "", "import", "--user", "u-1", path)
	assert.Error(t, err, "a meal without a payload fails validation")
}

func TestMine_RequiresUser(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "", "mine")
	assert.Error(t, err)
}

func TestBackfill_RequiresUser(t *testing.T) {
	_, err := execute(t, "", "backfill")
	assert.Error(t, err)
}

func TestSurfacingOptions(t *testing.T) {
	opts, err := surfacingOptions(config.SurfacingConfig{
		Thresholds:      map[string]float64{"cyclical_pattern": 75},
		FrequencyLimits: map[string]config.Duration{"temporal_correlation": config.Duration(12 * time.Hour)},
	})
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	_, err = surfacingOptions(config.SurfacingConfig{Thresholds: map[string]float64{"lunar": 50}})
	assert.Error(t, err)

	_, err = surfacingOptions(config.SurfacingConfig{FrequencyLimits: map[string]config.Duration{"lunar": 0}})
	assert.Error(t, err)
}

func TestPatternType(t *testing.T) {
	for _, want := range detection.AllPatternTypes {
		got, err := patternType(string(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := patternType("")
	assert.Error(t, err)
}

func TestMiningConfig(t *testing.T) {
	cfg := config.Default()
	mc := miningConfig(cfg.Mining)
	assert.NoError(t, mc.Validate())
	assert.Equal(t, mining.DefaultConfig(), mc)
}
