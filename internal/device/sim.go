// ABOUTME: Simulated capture and playback devices with configurable clock skew
// ABOUTME: Goroutine-driven or manually stepped, for tests and drift experiments
package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liscio/playthrough-go/pkg/audio"
	"github.com/liscio/playthrough-go/pkg/audio/source"
	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	streamsync "github.com/liscio/playthrough-go/pkg/sync"
	"go.uber.org/zap"
)

// SimConfig describes a simulated device
type SimConfig struct {
	Name         string
	Direction    Direction
	SampleRate   int
	Channels     int
	PeriodFrames int
	// Latency reported to the synchronizer
	Latency streamsync.Latency
	// Skew scales the real clock rate; 1.001 runs 0.1% fast
	Skew float64
	// Source feeds capture devices; nil captures silence
	Source source.Source
	// Manual disables the internal ticker; call Tick to run a period
	Manual bool
}

// Sim is a software device. Its clock runs at SampleRate*Skew and it
// reports Skew as its rate scalar.
type Sim struct {
	cfg    SimConfig
	logger *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	tickMu  sync.Mutex
	running atomic.Bool
	frames  atomic.Int64

	callback callbackSlot
	events   *eventQueue

	// capture scratch
	samples []int32
	floats  []float32
	buf     []byte

	// playback observers
	sink      func(out []byte, frames int)
	nonSilent atomic.Int64
	ticks     atomic.Int64
}

// NewSim creates a simulated device
func NewSim(cfg SimConfig, logger *zap.Logger) *Sim {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Skew <= 0 {
		cfg.Skew = 1
	}
	if cfg.Name == "" {
		cfg.Name = "sim " + cfg.Direction.String()
	}

	s := &Sim{
		cfg:    cfg,
		logger: logger.With(zap.String("device", cfg.Name)),
		events: newEventQueue(cfg.Name),
		buf:    make([]byte, cfg.PeriodFrames*cfg.Channels*4),
	}
	if cfg.Source != nil {
		s.samples = make([]int32, cfg.PeriodFrames*cfg.Source.Channels())
		s.floats = make([]float32, cfg.PeriodFrames*cfg.Channels)
	}
	return s
}

// SetSink observes every rendered playback period
func (s *Sim) SetSink(sink func(out []byte, frames int)) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.sink = sink
}

func (s *Sim) Name() string         { return s.cfg.Name }
func (s *Sim) Direction() Direction { return s.cfg.Direction }
func (s *Sim) PeriodFrames() int    { return s.cfg.PeriodFrames }
func (s *Sim) Events() <-chan Event { return s.events.ch }

func (s *Sim) Format() audio.Format {
	return audio.Format{SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels, BitDepth: 32}
}

func (s *Sim) Latency() streamsync.Latency { return s.cfg.Latency }

func (s *Sim) CurrentTime() (Timestamp, error) {
	if !s.running.Load() {
		return Timestamp{}, ErrNotRunning
	}
	return Timestamp{SampleTime: ringbuffer.SampleTime(s.frames.Load()), RateScalar: s.cfg.Skew}, nil
}

func (s *Sim) SetCallback(cb Callback) {
	s.callback.set(cb)
}

// Period returns the wall-clock duration of one period at the skewed rate
func (s *Sim) Period() time.Duration {
	seconds := float64(s.cfg.PeriodFrames) / (float64(s.cfg.SampleRate) * s.cfg.Skew)
	return time.Duration(seconds * float64(time.Second))
}

func (s *Sim) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}
	s.frames.Store(0)
	s.running.Store(true)

	if s.cfg.Manual {
		return nil
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

func (s *Sim) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.Period())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one device period. It does nothing while stopped.
func (s *Sim) Tick() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if !s.running.Load() {
		return
	}

	frames := s.cfg.PeriodFrames
	ts := Timestamp{SampleTime: ringbuffer.SampleTime(s.frames.Load()), RateScalar: s.cfg.Skew}
	s.frames.Add(int64(frames))
	s.ticks.Add(1)

	cb := s.callback.get()

	if s.cfg.Direction == Capture {
		s.capture(frames)
		if cb != nil {
			cb(s.buf, nil, frames, ts)
		}
		return
	}

	if cb == nil {
		clear(s.buf)
	} else {
		cb(nil, s.buf, frames, ts)
	}
	if !isSilent(s.buf) {
		s.nonSilent.Add(1)
	}
	if s.sink != nil {
		s.sink(s.buf, frames)
	}
}

// capture fills buf with one period of source audio, mapping source
// channels onto device channels by index modulo the source width
func (s *Sim) capture(frames int) {
	src := s.cfg.Source
	if src == nil {
		clear(s.buf)
		return
	}

	srcChannels := src.Channels()
	n, err := src.Read(s.samples)
	if err != nil {
		s.logger.Warn("Source read failed", zap.Error(err))
		n = 0
	}
	clear(s.samples[n:])

	if srcChannels == s.cfg.Channels {
		audio.Int24ToFloat32Into(s.floats, s.samples[:frames*srcChannels])
	} else {
		for f := 0; f < frames; f++ {
			for ch := 0; ch < s.cfg.Channels; ch++ {
				s.floats[f*s.cfg.Channels+ch] = audio.Int24ToFloat32(s.samples[f*srcChannels+ch%srcChannels])
			}
		}
	}
	audio.Float32ToBytesInto(s.buf, s.floats)
}

func isSilent(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// NonSilentPeriods counts playback periods that carried any signal
func (s *Sim) NonSilentPeriods() int64 { return s.nonSilent.Load() }

// Ticks counts periods run since creation
func (s *Sim) Ticks() int64 { return s.ticks.Load() }

// TriggerChange reports a device change, as a disconnected device would
func (s *Sim) TriggerChange() {
	s.logger.Info("Simulated device change")
	s.events.send(EventDeviceChanged)
}

func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop, s.done = nil, nil
	}
	s.events.send(EventStopped)
	return nil
}

func (s *Sim) Close() error {
	if err := s.Stop(); err != nil {
		return fmt.Errorf("failed to stop %s: %w", s.cfg.Name, err)
	}
	return nil
}
