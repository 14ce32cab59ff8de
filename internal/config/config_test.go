// ABOUTME: Tests for configuration loading
// ABOUTME: Tests defaults, YAML files, environment overrides and validation
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playthrough.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "malgo", cfg.Backend)
	assert.Equal(t, int64(128), cfg.Sync.MinAdjustmentFrames)
	assert.Equal(t, 20, cfg.Sync.RingPeriods)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend: sim
audio:
  sample_rate: 44100
  period_frames: 512
sync:
  min_adjustment_frames: 64
sim:
  input_skew: 1.002
metrics_addr: ":9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Backend)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 512, cfg.Audio.PeriodFrames)
	assert.Equal(t, int64(64), cfg.Sync.MinAdjustmentFrames)
	assert.Equal(t, 1.002, cfg.Sim.InputSkew)
	assert.Equal(t, ":9100", cfg.MetricsAddr)

	// Untouched fields keep their defaults
	assert.Equal(t, 2, cfg.Audio.Channels)
	assert.Equal(t, 3, cfg.Audio.Periods)
	assert.Equal(t, 1.0, cfg.Sim.OutputSkew)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "audio: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "backend: coreaudio"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PLAYTHROUGH_BACKEND", "oto")
	t.Setenv("PLAYTHROUGH_INPUT_DEVICE", "USB")
	t.Setenv("PLAYTHROUGH_SAMPLE_RATE", "96000")
	t.Setenv("PLAYTHROUGH_LOG_LEVEL", "debug")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "oto", cfg.Backend)
	assert.Equal(t, "USB", cfg.Devices.Input)
	assert.Equal(t, 96000, cfg.Audio.SampleRate)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 256, cfg.Audio.PeriodFrames)
}

func TestApplyEnvRejectsBadInt(t *testing.T) {
	t.Setenv("PLAYTHROUGH_PERIOD_FRAMES", "lots")

	cfg := Default()
	err := cfg.ApplyEnv()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 256, cfg.Audio.PeriodFrames)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"backend", func(c *Config) { c.Backend = "jack" }},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 100 }},
		{"channels", func(c *Config) { c.Audio.Channels = 0 }},
		{"period", func(c *Config) { c.Audio.PeriodFrames = 8 }},
		{"periods", func(c *Config) { c.Audio.Periods = 1 }},
		{"ring periods", func(c *Config) { c.Sync.RingPeriods = 2 }},
		{"min adjustment", func(c *Config) { c.Sync.MinAdjustmentFrames = 0 }},
		{"input skew", func(c *Config) { c.Sim.InputSkew = 3 }},
		{"output skew", func(c *Config) { c.Sim.OutputSkew = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
