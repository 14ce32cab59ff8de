// ABOUTME: Play-through configuration from YAML, environment and defaults
// ABOUTME: Validated once at startup; flags in main override file values
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete play-through configuration
type Config struct {
	Backend     string        `yaml:"backend"` // malgo, oto, sim
	Devices     DevicesConfig `yaml:"devices"`
	Audio       AudioConfig   `yaml:"audio"`
	Sync        SyncConfig    `yaml:"sync"`
	Sim         SimConfig     `yaml:"sim"`
	MetricsAddr string        `yaml:"metrics_addr"` // empty disables the endpoint
	Log         LogConfig     `yaml:"log"`
}

// DevicesConfig selects hardware devices by name substring
type DevicesConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

// AudioConfig is the stream format shared by both devices
type AudioConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	Channels     int `yaml:"channels"`
	PeriodFrames int `yaml:"period_frames"`
	Periods      int `yaml:"periods"`
}

// SyncConfig tunes the ring buffer and offset correction
type SyncConfig struct {
	RingPeriods         int   `yaml:"ring_periods"`          // ring capacity in input periods
	MinAdjustmentFrames int64 `yaml:"min_adjustment_frames"` // smallest offset nudge after a miss
}

// SimConfig drives the simulated backend
type SimConfig struct {
	Source     string  `yaml:"source"` // mp3/flac path, empty for a test tone
	InputSkew  float64 `yaml:"input_skew"`
	OutputSkew float64 `yaml:"output_skew"`
}

// LogConfig selects log destination and verbosity
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Backend: "malgo",
		Audio: AudioConfig{
			SampleRate:   48000,
			Channels:     2,
			PeriodFrames: 256,
			Periods:      3,
		},
		Sync: SyncConfig{
			RingPeriods:         20,
			MinAdjustmentFrames: 128,
		},
		Sim: SimConfig{
			InputSkew:  1,
			OutputSkew: 1,
		},
		Log: LogConfig{
			File:  "playthrough.log",
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PLAYTHROUGH_* environment variables
func (c *Config) ApplyEnv() error {
	c.Backend = getEnv("PLAYTHROUGH_BACKEND", c.Backend)
	c.Devices.Input = getEnv("PLAYTHROUGH_INPUT_DEVICE", c.Devices.Input)
	c.Devices.Output = getEnv("PLAYTHROUGH_OUTPUT_DEVICE", c.Devices.Output)
	c.Sim.Source = getEnv("PLAYTHROUGH_SOURCE", c.Sim.Source)
	c.MetricsAddr = getEnv("PLAYTHROUGH_METRICS_ADDR", c.MetricsAddr)
	c.Log.File = getEnv("PLAYTHROUGH_LOG_FILE", c.Log.File)
	c.Log.Level = getEnv("PLAYTHROUGH_LOG_LEVEL", c.Log.Level)

	var err error
	if c.Audio.SampleRate, err = getEnvInt("PLAYTHROUGH_SAMPLE_RATE", c.Audio.SampleRate); err != nil {
		return err
	}
	if c.Audio.PeriodFrames, err = getEnvInt("PLAYTHROUGH_PERIOD_FRAMES", c.Audio.PeriodFrames); err != nil {
		return err
	}
	return nil
}

// Validate checks ranges and names
func (c *Config) Validate() error {
	switch c.Backend {
	case "malgo", "oto", "sim":
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 384000 {
		return fmt.Errorf("%w: sample_rate %d out of range", ErrInvalid, c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 32 {
		return fmt.Errorf("%w: channels %d out of range", ErrInvalid, c.Audio.Channels)
	}
	if c.Audio.PeriodFrames < 16 || c.Audio.PeriodFrames > 8192 {
		return fmt.Errorf("%w: period_frames %d out of range", ErrInvalid, c.Audio.PeriodFrames)
	}
	if c.Audio.Periods < 2 {
		return fmt.Errorf("%w: periods must be at least 2", ErrInvalid)
	}
	if c.Sync.RingPeriods < 4 {
		return fmt.Errorf("%w: ring_periods must be at least 4", ErrInvalid)
	}
	if c.Sync.MinAdjustmentFrames < 1 {
		return fmt.Errorf("%w: min_adjustment_frames must be positive", ErrInvalid)
	}
	for name, skew := range map[string]float64{"input_skew": c.Sim.InputSkew, "output_skew": c.Sim.OutputSkew} {
		if skew < 0.5 || skew > 2 {
			return fmt.Errorf("%w: %s %g out of range", ErrInvalid, name, skew)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level: %v", ErrInvalid, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	return n, nil
}
