package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/internal/history"
	"github.com/ChuLiYu/pacemaker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file whose data paths live in a temp dir.
func writeConfig(t *testing.T) (string, *Config) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pacemaker.yaml")

	content := fmt.Sprintf(`
data:
  settings_path: %s
  history_path: %s
  spool_path: %s
  spool_max_records: 50
metrics:
  enabled: false
  port: 9191
log:
  level: warn
clock:
  speed: 20
`, filepath.Join(dir, "settings.json"), filepath.Join(dir, "history.db"), filepath.Join(dir, "spool.jsonl"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	return path, cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "pacemaker", cmd.Use)
	assert.Equal(t, Version, cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "history", "settings", "status", "stop"} {
		assert.True(t, names[want], "missing %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, DefaultConfigPath, configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.Equal(t, "run", cmd.Use)
	for _, flag := range []string{"distance", "time", "gpx", "gpx-out", "speed", "route-pace", "suspend-at", "suspend-for", "no-speech"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "missing --%s", flag)
	}
	assert.Equal(t, "5", cmd.Flags().Lookup("distance").DefValue)
	assert.Equal(t, "25", cmd.Flags().Lookup("time").DefValue)
}

// ============================================================================
// Config
// ============================================================================

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigValidYAML(t *testing.T) {
	_, cfg := writeConfig(t)

	assert.Equal(t, 50, cfg.Data.SpoolMaxRecords)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 20.0, cfg.Clock.Speed)
	// untouched sections keep defaults
	assert.Equal(t, "localhost:50051", cfg.Control.Addr)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path, _ := writeConfig(t)
	t.Setenv("PACEMAKER_METRICS_PORT", "9300")
	t.Setenv("PACEMAKER_DATA_SPOOL_MAX_RECORDS", "7")
	t.Setenv("PACEMAKER_LOG_LEVEL", "debug")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Metrics.Port)
	assert.Equal(t, 7, cfg.Data.SpoolMaxRecords)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0644))
	_, err := loadConfig(path)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "validation", ce.Stage)

	require.NoError(t, os.WriteFile(path, []byte("clock: [not, a, map]\n"), 0644))
	_, err = loadConfig(path)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "parse", ce.Stage)

	t.Setenv("PACEMAKER_METRICS_PORT", "lots")
	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "environment", ce.Stage)
}

func TestSpeechCommandRequiredWhenEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.yaml")
	require.NoError(t, os.WriteFile(path, []byte("speech:\n  enabled: true\n  command: \"\"\n"), 0644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}

// ============================================================================
// Commands
// ============================================================================

func TestSettingsCommands(t *testing.T) {
	path, cfg := writeConfig(t)

	out, err := execute(t, "--config", path, "settings", "set", "personality", "Goggins")
	require.NoError(t, err)
	assert.Contains(t, out, "personality = Goggins")

	out, err = execute(t, "--config", path, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "personality: Goggins")
	assert.Contains(t, out, "feedback_time_interval: 30")

	_, err = execute(t, "--config", path, "settings", "set", "feedback_time_interval", "2")
	assert.Error(t, err, "below the 5 s minimum")

	_, err = execute(t, "--config", path, "settings", "reset")
	require.NoError(t, err)

	_, err = os.Stat(cfg.Data.SettingsPath)
	assert.True(t, os.IsNotExist(err), "reset removes the file")

	out, err = execute(t, "--config", path, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "personality: Neutral")
}

func TestHistoryCommands(t *testing.T) {
	path, cfg := writeConfig(t)
	ctx := context.Background()

	h, err := history.Open(cfg.Data.HistoryPath)
	require.NoError(t, err)
	for i, id := range []string{"first", "second"} {
		require.NoError(t, h.Append(ctx, types.CompletedRun{
			ID:                id,
			Date:              time.Date(2026, 4, i+1, 7, 0, 0, 0, time.UTC),
			TargetDistanceKm:  5,
			TargetTimeMinutes: 25,
			ActualDistanceKm:  5,
			ActualTimeSeconds: 1500,
			AveragePace:       types.Pace{MinPerKm: 5, Valid: true},
			CompletedGoal:     true,
		}))
	}
	require.NoError(t, h.Close())

	out, err := execute(t, "--config", path, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "2 runs, 2 goals reached")

	out, err = execute(t, "--config", path, "history", "delete", "first")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted first")

	_, err = execute(t, "--config", path, "history", "delete", "first")
	assert.ErrorIs(t, err, history.ErrRunNotFound)

	_, err = execute(t, "--config", path, "history", "clear")
	require.NoError(t, err)

	out, err = execute(t, "--config", path, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs yet")
}

func TestLoadSamplesSyntheticRoute(t *testing.T) {
	start := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	goal := types.RunGoal{DistanceKm: 3, TimeMinutes: 18}

	samples, err := loadSamples(runOptions{}, goal, start)
	require.NoError(t, err)
	require.NotEmpty(t, samples)
	assert.GreaterOrEqual(t, geo.PathLength(samples), 3.0)

	// 6:00/km at a fix every 5 s
	last := samples[len(samples)-1]
	assert.InDelta(t, geo.PathLength(samples)*6*60, last.Time().Sub(start).Seconds(), 10)
}

func TestLoadSamplesMissingGPX(t *testing.T) {
	_, err := loadSamples(runOptions{gpxPath: filepath.Join(t.TempDir(), "none.gpx")}, types.RunGoal{DistanceKm: 1, TimeMinutes: 5}, time.Now())
	assert.Error(t, err)
}
