// ABOUTME: Device factory selecting a backend by name
// ABOUTME: Builds the capture/playback pair for the play-through engine
package device

import (
	"fmt"

	"github.com/liscio/playthrough-go/pkg/audio/source"
	streamsync "github.com/liscio/playthrough-go/pkg/sync"
	"go.uber.org/zap"
)

// Backend names accepted by Open
const (
	BackendMalgo = "malgo"
	BackendOto   = "oto"
	BackendSim   = "sim"
)

// Options configures a device pair
type Options struct {
	Backend      string
	InputDevice  string
	OutputDevice string
	SampleRate   int
	Channels     int
	PeriodFrames int
	Periods      int

	// sim only
	Source     source.Source
	InputSkew  float64
	OutputSkew float64
}

// Open creates a capture and a playback device for opts.Backend. The oto
// backend captures through miniaudio since oto has no input path.
func Open(opts Options, logger *zap.Logger) (in, out Device, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch opts.Backend {
	case BackendMalgo, BackendOto:
		capture, err := NewMalgo(MalgoConfig{
			Direction:    Capture,
			DeviceName:   opts.InputDevice,
			SampleRate:   opts.SampleRate,
			Channels:     opts.Channels,
			PeriodFrames: opts.PeriodFrames,
			Periods:      opts.Periods,
		}, logger)
		if err != nil {
			return nil, nil, err
		}

		var playback Device
		if opts.Backend == BackendOto {
			playback, err = NewOto(opts.SampleRate, opts.Channels, opts.PeriodFrames, opts.Periods, logger)
		} else {
			playback, err = NewMalgo(MalgoConfig{
				Direction:    Playback,
				DeviceName:   opts.OutputDevice,
				SampleRate:   opts.SampleRate,
				Channels:     opts.Channels,
				PeriodFrames: opts.PeriodFrames,
				Periods:      opts.Periods,
			}, logger)
		}
		if err != nil {
			capture.Close()
			return nil, nil, err
		}
		return capture, playback, nil

	case BackendSim:
		in, out := NewSimPair(opts, false, logger)
		return in, out, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// NewSimPair builds simulated capture and playback devices from opts
func NewSimPair(opts Options, manual bool, logger *zap.Logger) (*Sim, *Sim) {
	latency := streamsync.Latency{
		SafetyOffset: opts.PeriodFrames * max(opts.Periods-1, 0),
		BufferFrames: opts.PeriodFrames,
	}
	in := NewSim(SimConfig{
		Name:         "sim capture",
		Direction:    Capture,
		SampleRate:   opts.SampleRate,
		Channels:     opts.Channels,
		PeriodFrames: opts.PeriodFrames,
		Latency:      latency,
		Skew:         opts.InputSkew,
		Source:       opts.Source,
		Manual:       manual,
	}, logger)
	out := NewSim(SimConfig{
		Name:         "sim playback",
		Direction:    Playback,
		SampleRate:   opts.SampleRate,
		Channels:     opts.Channels,
		PeriodFrames: opts.PeriodFrames,
		Latency:      latency,
		Skew:         opts.OutputSkew,
		Manual:       manual,
	}, logger)
	return in, out
}
