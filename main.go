// ABOUTME: Entry point for the audio play-through
// ABOUTME: Parses flags, opens devices and runs the engine host with an optional TUI
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/liscio/playthrough-go/internal/config"
	"github.com/liscio/playthrough-go/internal/device"
	"github.com/liscio/playthrough-go/internal/metrics"
	"github.com/liscio/playthrough-go/internal/playthrough"
	"github.com/liscio/playthrough-go/internal/ui"
	"github.com/liscio/playthrough-go/internal/version"
	"github.com/liscio/playthrough-go/pkg/audio/source"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath  = flag.String("config", "", "YAML config file")
	backend     = flag.String("backend", "", "Audio backend: malgo, oto or sim")
	inputName   = flag.String("input", "", "Capture device name (substring match)")
	outputName  = flag.String("output", "", "Playback device name (substring match)")
	sourcePath  = flag.String("source", "", "MP3/FLAC file for the sim backend (default: test tone)")
	sampleRate  = flag.Int("rate", 0, "Sample rate in Hz")
	channels    = flag.Int("channels", 0, "Channel count")
	period      = flag.Int("period", 0, "Device period in frames")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	logFile     = flag.String("log-file", "", "Log file path")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	useTUI := !*noTUI

	logger, closeLog, err := newLogger(cfg.Log.File, cfg.Log.Level, !useTUI)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer closeLog()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting play-through",
		zap.String("version", version.Version),
		zap.String("backend", cfg.Backend),
		zap.Int("sample_rate", cfg.Audio.SampleRate),
		zap.Int("channels", cfg.Audio.Channels),
		zap.Int("period_frames", cfg.Audio.PeriodFrames))

	var src source.Source
	if cfg.Backend == device.BackendSim {
		src, err = source.Open(cfg.Sim.Source, cfg.Audio.SampleRate, cfg.Audio.Channels, logger)
		if err != nil {
			logger.Fatal("Failed to open source", zap.Error(err))
		}
		defer src.Close()
		logger.Info("Sim source", zap.String("name", src.Name()))
	}

	factory := func() (*playthrough.Engine, error) {
		in, out, err := device.Open(device.Options{
			Backend:      cfg.Backend,
			InputDevice:  cfg.Devices.Input,
			OutputDevice: cfg.Devices.Output,
			SampleRate:   cfg.Audio.SampleRate,
			Channels:     cfg.Audio.Channels,
			PeriodFrames: cfg.Audio.PeriodFrames,
			Periods:      cfg.Audio.Periods,
			Source:       src,
			InputSkew:    cfg.Sim.InputSkew,
			OutputSkew:   cfg.Sim.OutputSkew,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open devices: %w", err)
		}

		engine, err := playthrough.NewEngine(playthrough.Config{
			RingPeriods:   cfg.Sync.RingPeriods,
			MinAdjustment: cfg.Sync.MinAdjustmentFrames,
		}, in, out, logger)
		if err != nil {
			in.Close()
			out.Close()
			return nil, err
		}
		return engine, nil
	}

	host := playthrough.NewHost(factory, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostDone := make(chan error, 1)
	go func() { hostDone <- host.Run(ctx) }()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = startMetrics(cfg.MetricsAddr, logger)
	}

	// TUI setup
	var tuiProg *tea.Program
	var controls *ui.Controls

	if useTUI {
		controls = ui.NewControls()
		tuiProg, err = ui.Run(controls)
		if err != nil {
			logger.Fatal("Failed to start TUI", zap.Error(err))
		}
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				logger.Error("TUI exited", zap.Error(err))
			}
		}()
		go ui.Poll(ctx, tuiProg, 250*time.Millisecond, host.Stats)
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var restart, quit chan struct{}
	if controls != nil {
		restart, quit = controls.Restart, controls.Quit
	}

wait:
	for {
		select {
		case <-restart:
			logger.Info("Restart requested from TUI")
			host.Restart()
		case <-quit:
			logger.Info("Received quit signal from TUI")
			break wait
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", zap.Stringer("signal", sig))
			break wait
		}
	}

	cancel()
	if err := <-hostDone; err != nil {
		logger.Error("Error stopping engine", zap.Error(err))
	}

	if tuiProg != nil {
		tuiProg.Quit()
	}

	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown", zap.Error(err))
		}
	}

	logger.Info("Play-through stopped")
}

// loadConfig layers defaults, the config file, the environment and flags
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "input":
			cfg.Devices.Input = *inputName
		case "output":
			cfg.Devices.Output = *outputName
		case "source":
			cfg.Sim.Source = *sourcePath
		case "rate":
			cfg.Audio.SampleRate = *sampleRate
		case "channels":
			cfg.Audio.Channels = *channels
		case "period":
			cfg.Audio.PeriodFrames = *period
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-file":
			cfg.Log.File = *logFile
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	return cfg, cfg.Validate()
}

// newLogger writes JSON logs to path, and to stdout as well when the TUI
// is off
func newLogger(path, level string, toStdout bool) (*zap.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = f
	if toStdout {
		w = io.MultiWriter(os.Stdout, f)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w),
		lvl,
	)
	return zap.New(core), func() { _ = f.Close() }, nil
}

func startMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
