// ABOUTME: Play-through engine routing a capture device into a playback device
// ABOUTME: Input callback stores into the ring, output callback fetches through the varispeed
package playthrough

import (
	"errors"
	"fmt"
	"math"
	gosync "sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/liscio/playthrough-go/internal/device"
	"github.com/liscio/playthrough-go/internal/metrics"
	"github.com/liscio/playthrough-go/pkg/audio"
	"github.com/liscio/playthrough-go/pkg/audio/resample"
	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	streamsync "github.com/liscio/playthrough-go/pkg/sync"
	"go.uber.org/zap"
)

const (
	// DefaultRingPeriods is the ring capacity in input periods
	DefaultRingPeriods = 20

	bytesPerSample = 4 // float32
)

// Config tunes the engine
type Config struct {
	RingPeriods   int
	MinAdjustment int64
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		RingPeriods:   DefaultRingPeriods,
		MinAdjustment: streamsync.DefaultMinAdjustment,
	}
}

// Stats is a snapshot of the engine for status displays
type Stats struct {
	Session      string
	Running      bool
	InputDevice  string
	OutputDevice string
	Channels     int
	Capacity     int

	Sync         streamsync.Stats
	WindowStatus ringbuffer.Status
	WindowStart  ringbuffer.SampleTime
	WindowEnd    ringbuffer.SampleTime
	Varispeed    float64

	Stores        uint64
	TooMuchStores uint64
	Fetches       uint64
	OKFetches     uint64
	SilentPulls   uint64
}

// Engine connects one capture device to one playback device through a
// time-indexed ring buffer. The producer side stores every input period at
// its device sample time; the consumer side asks the synchronizer where to
// read and pulls through a varispeed that absorbs clock drift.
type Engine struct {
	cfg    Config
	in     device.Device
	out    device.Device
	logger *zap.Logger

	channels   int
	inChannels int
	outChans   int
	inPeriod   int
	outPeriod  int
	capacity   int

	ring      *ringbuffer.RingBuffer
	sync      *streamsync.Synchronizer
	varispeed *resample.Varispeed

	mu      gosync.Mutex
	session string
	running atomic.Bool

	// producer callback only
	inBufs [][]byte

	// consumer callback only
	fetchBufs    [][]byte
	render       [][]float32
	consumerTime ringbuffer.SampleTime
	consumerRate float64

	producerStarted atomic.Bool

	stores      atomic.Uint64
	tooMuch     atomic.Uint64
	fetches     atomic.Uint64
	okFetches   atomic.Uint64
	silentPulls atomic.Uint64
}

// NewEngine builds an engine around an input and an output device. Devices
// are owned by the engine from here on and closed by Close.
func NewEngine(cfg Config, in, out device.Device, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RingPeriods <= 0 {
		cfg.RingPeriods = DefaultRingPeriods
	}

	inFormat, outFormat := in.Format(), out.Format()
	if err := inFormat.Validate(); err != nil {
		return nil, fmt.Errorf("input %s: %w", in.Name(), err)
	}
	if err := outFormat.Validate(); err != nil {
		return nil, fmt.Errorf("output %s: %w", out.Name(), err)
	}
	if in.PeriodFrames() <= 0 || out.PeriodFrames() <= 0 {
		return nil, fmt.Errorf("invalid period sizes %d -> %d", in.PeriodFrames(), out.PeriodFrames())
	}

	e := &Engine{
		cfg:          cfg,
		in:           in,
		out:          out,
		logger:       logger,
		channels:     min(inFormat.Channels, outFormat.Channels),
		inChannels:   inFormat.Channels,
		outChans:     outFormat.Channels,
		inPeriod:     in.PeriodFrames(),
		outPeriod:    out.PeriodFrames(),
		capacity:     in.PeriodFrames() * cfg.RingPeriods,
		consumerRate: 1,
	}

	ring, err := ringbuffer.New(e.channels, bytesPerSample, e.capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate ring buffer: %w", err)
	}
	e.ring = ring

	e.varispeed = resample.New(e.channels, e.outPeriod, inFormat.SampleRate, outFormat.SampleRate)
	e.sync = streamsync.NewSynchronizer(ring, e.varispeed, in.Latency(), out.Latency(),
		streamsync.Config{MinAdjustment: cfg.MinAdjustment}, logger)

	// Largest single pull the varispeed can make for one output period
	maxPull := int(math.Ceil(float64(e.outPeriod)*float64(inFormat.SampleRate)/float64(outFormat.SampleRate)*resample.MaxRate)) + 1

	e.inBufs = audio.NewChannelBuffers(e.channels, e.inPeriod, bytesPerSample)
	e.fetchBufs = audio.NewChannelBuffers(e.channels, maxPull, bytesPerSample)
	e.render = audio.NewFloatBuffers(e.channels, e.outPeriod)

	logger.Info("Play-through engine created",
		zap.String("input", in.Name()),
		zap.String("output", out.Name()),
		zap.Stringer("input_format", inFormat),
		zap.Stringer("output_format", outFormat),
		zap.Int("channels", e.channels),
		zap.Int("ring_frames", ring.CapacityFrames()))

	return e, nil
}

// Start begins a new session: the ring is cleared, the synchronizer is
// seeded with both device latencies and both devices start, input first.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return nil
	}

	if err := e.ring.Allocate(e.channels, bytesPerSample, e.capacity); err != nil {
		return fmt.Errorf("failed to reset ring buffer: %w", err)
	}
	e.varispeed.Reset()
	e.varispeed.SetRate(1)
	e.consumerTime = 0
	e.consumerRate = 1
	e.producerStarted.Store(false)
	e.session = uuid.New().String()

	e.sync.OnStreamsRestarted()
	e.running.Store(true)

	e.in.SetCallback(e.inputProc)
	e.out.SetCallback(e.outputProc)

	if err := e.in.Start(); err != nil {
		e.halt()
		return fmt.Errorf("failed to start input %s: %w", e.in.Name(), err)
	}
	if err := e.out.Start(); err != nil {
		e.in.Stop()
		e.halt()
		return fmt.Errorf("failed to start output %s: %w", e.out.Name(), err)
	}

	metrics.Running.Set(1)
	e.logger.Info("Play-through started", zap.String("session", e.session))
	return nil
}

// Stop stops both devices. The synchronizer returns to uninitialized so
// late callbacks produce silence.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return nil
	}

	err := errors.Join(e.out.Stop(), e.in.Stop())
	e.halt()

	metrics.Running.Set(0)
	e.logger.Info("Play-through stopped", zap.String("session", e.session))
	if err != nil {
		return fmt.Errorf("failed to stop devices: %w", err)
	}
	return nil
}

func (e *Engine) halt() {
	e.running.Store(false)
	e.sync.Reset()
	e.in.SetCallback(nil)
	e.out.SetCallback(nil)
}

// Close stops the engine and releases both devices
func (e *Engine) Close() error {
	stopErr := e.Stop()
	return errors.Join(stopErr, e.in.Close(), e.out.Close())
}

// IsRunning reports whether the devices are running
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Input returns the capture device
func (e *Engine) Input() device.Device { return e.in }

// Output returns the playback device
func (e *Engine) Output() device.Device { return e.out }

// Synchronizer exposes the offset tracker
func (e *Engine) Synchronizer() *streamsync.Synchronizer { return e.sync }

// Stats returns a snapshot of the engine
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, start, end := e.ring.GetTimeBounds()

	return Stats{
		Session:       e.session,
		Running:       e.running.Load(),
		InputDevice:   e.in.Name(),
		OutputDevice:  e.out.Name(),
		Channels:      e.channels,
		Capacity:      e.ring.CapacityFrames(),
		Sync:          e.sync.Stats(),
		WindowStatus:  status,
		WindowStart:   start,
		WindowEnd:     end,
		Varispeed:     e.varispeed.Rate(),
		Stores:        e.stores.Load(),
		TooMuchStores: e.tooMuch.Load(),
		Fetches:       e.fetches.Load(),
		OKFetches:     e.okFetches.Load(),
		SilentPulls:   e.silentPulls.Load(),
	}
}

// inputProc runs on the capture device thread
func (e *Engine) inputProc(in, _ []byte, frames int, ts device.Timestamp) {
	if !e.running.Load() {
		return
	}

	e.sync.OnProducerTick(ts.SampleTime, ts.RateScalar)
	if e.producerStarted.CompareAndSwap(false, true) {
		e.logger.Debug("First input frames",
			zap.Int64("sample_time", int64(ts.SampleTime)),
			zap.Float64("rate_scalar", ts.RateScalar))
	}

	stride := e.inChannels * bytesPerSample
	for done := 0; done < frames; {
		n := min(frames-done, e.inPeriod)
		audio.DeinterleaveInto(e.inBufs, in[done*stride:], e.inChannels, n, bytesPerSample)

		status := e.ring.Store(e.inBufs, n, ts.SampleTime+ringbuffer.SampleTime(done))
		e.stores.Add(1)
		if status != ringbuffer.OK {
			e.tooMuch.Add(1)
		}
		metrics.ObserveStore(status)

		done += n
	}
}

// outputProc runs on the playback device thread
func (e *Engine) outputProc(_, out []byte, frames int, ts device.Timestamp) {
	if !e.running.Load() || !e.producerStarted.Load() {
		clear(out[:frames*e.outChans*bytesPerSample])
		return
	}
	if _, err := e.in.CurrentTime(); err != nil {
		clear(out[:frames*e.outChans*bytesPerSample])
		return
	}

	e.consumerRate = ts.RateScalar

	stride := e.outChans * bytesPerSample
	for done := 0; done < frames; {
		n := min(frames-done, e.outPeriod)
		e.varispeed.Render(e.render, n, e.pull)
		audio.InterleaveFloat32Into(out[done*stride:], e.render, e.outChans, n)
		done += n
	}
}

// pull feeds the varispeed from the ring. Its input counter is the
// consumer's sample time.
func (e *Engine) pull(dst [][]float32, frames int) {
	t := e.consumerTime
	e.consumerTime += ringbuffer.SampleTime(frames)

	read, ok := e.sync.OnConsumerTick(t, e.consumerRate)
	if !ok {
		e.silence(dst, frames)
		return
	}

	status := e.ring.Fetch(e.fetchBufs, frames, read)
	e.sync.OnFetchResult(status, read, frames)
	e.fetches.Add(1)
	metrics.ObserveFetch(status)

	if status != ringbuffer.OK {
		e.silence(dst, frames)
		return
	}
	e.okFetches.Add(1)

	for ch := range dst {
		audio.BytesToFloat32Into(dst[ch][:frames], e.fetchBufs[ch][:frames*bytesPerSample])
	}
}

func (e *Engine) silence(dst [][]float32, frames int) {
	e.silentPulls.Add(1)
	for ch := range dst {
		clear(dst[ch][:frames])
	}
}
