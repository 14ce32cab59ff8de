// ABOUTME: Producer/consumer offset tracking around a time-indexed ring buffer
// ABOUTME: Seeds, locks and nudges the consumer read cursor without blocking
package sync

import (
	"math"
	"sync/atomic"

	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	"go.uber.org/zap"
)

// DefaultMinAdjustment is the smallest offset nudge applied after a miss
const DefaultMinAdjustment = 128

// unsetTime marks a first-tick timestamp that has not been seen yet
const unsetTime = math.MinInt64

// State is the synchronizer lifecycle stage
type State int32

const (
	// StateUninitialized: streams stopped, ticks produce silence
	StateUninitialized State = iota
	// StateSeeded: offset holds the latency estimate, waiting for first contact
	StateSeeded
	// StateLocked: first-contact correction applied, read times are live
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSeeded:
		return "seeded"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Latency is one side's hardware queue latency in frames
type Latency struct {
	SafetyOffset int
	BufferFrames int
}

// Frames returns the total latency
func (l Latency) Frames() int64 {
	return int64(l.SafetyOffset) + int64(l.BufferFrames)
}

// Config tunes the miss correction
type Config struct {
	MinAdjustment int64
}

// DefaultConfig returns the standard configuration
func DefaultConfig() Config {
	return Config{MinAdjustment: DefaultMinAdjustment}
}

// BoundsSource reports the producer's currently valid window
type BoundsSource interface {
	GetTimeBounds() (ringbuffer.Status, ringbuffer.SampleTime, ringbuffer.SampleTime)
}

// RateController receives the producer/consumer clock ratio every tick
type RateController interface {
	SetRate(ratio float64)
}

// Stats is a point-in-time snapshot for status displays
type Stats struct {
	State          State
	Offset         int64
	LastReadTime   ringbuffer.SampleTime
	NextReadTime   ringbuffer.SampleTime
	RateRatio      float64
	ProducerRate   float64
	ConsumerRate   float64
	ConsumerTicks  uint64
	SilentTicks    uint64
	Adjustments    uint64
	BehindMisses   uint64
	AheadMisses    uint64
	OverloadMisses uint64
}

// Synchronizer hands out consumer read times.
//
// OnProducerTick runs on the producer thread; OnConsumerTick and
// OnFetchResult run on the consumer thread. OnStreamsRestarted and Reset are
// called while both streams are stopped. Every accessor is safe from any
// goroutine.
type Synchronizer struct {
	bounds        BoundsSource
	rate          RateController
	input         Latency
	output        Latency
	minAdjustment int64
	logger        *zap.Logger

	state         atomic.Int32
	offset        atomic.Int64
	firstProducer atomic.Int64
	firstConsumer atomic.Int64
	lastRead      atomic.Int64

	// consumer time just past the last fetch
	nextConsumer atomic.Int64

	// float64 bits
	producerRate atomic.Uint64
	consumerRate atomic.Uint64
	rateRatio    atomic.Uint64

	consumerTicks  atomic.Uint64
	silentTicks    atomic.Uint64
	adjustments    atomic.Uint64
	behindMisses   atomic.Uint64
	aheadMisses    atomic.Uint64
	overloadMisses atomic.Uint64
}

// NewSynchronizer creates a synchronizer in StateUninitialized. rate may be
// nil when no rate conversion sits between the ring and the consumer.
func NewSynchronizer(bounds BoundsSource, rate RateController, input, output Latency, cfg Config, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinAdjustment <= 0 {
		cfg.MinAdjustment = DefaultMinAdjustment
	}

	s := &Synchronizer{
		bounds:        bounds,
		rate:          rate,
		input:         input,
		output:        output,
		minAdjustment: cfg.MinAdjustment,
		logger:        logger,
	}
	s.Reset()
	return s
}

// OnStreamsRestarted clears first-tick timestamps and seeds the offset with
// both sides' latencies
func (s *Synchronizer) OnStreamsRestarted() {
	s.firstProducer.Store(unsetTime)
	s.firstConsumer.Store(unsetTime)
	s.offset.Store(s.seed())
	s.lastRead.Store(0)
	s.nextConsumer.Store(unsetTime)
	storeFloat(&s.producerRate, 1)
	storeFloat(&s.consumerRate, 1)
	storeFloat(&s.rateRatio, 1)
	s.state.Store(int32(StateSeeded))

	s.logger.Debug("Synchronizer seeded",
		zap.Int64("offset", s.seed()),
		zap.Int64("input_latency", s.input.Frames()),
		zap.Int64("output_latency", s.output.Frames()))
}

// Reset returns to StateUninitialized; ticks produce silence until the next
// OnStreamsRestarted
func (s *Synchronizer) Reset() {
	s.state.Store(int32(StateUninitialized))
	s.firstProducer.Store(unsetTime)
	s.firstConsumer.Store(unsetTime)
	s.offset.Store(s.seed())
	s.lastRead.Store(0)
	s.nextConsumer.Store(unsetTime)
	storeFloat(&s.producerRate, 1)
	storeFloat(&s.consumerRate, 1)
	storeFloat(&s.rateRatio, 1)
}

func (s *Synchronizer) seed() int64 {
	return s.input.Frames() + s.output.Frames()
}

// OnProducerTick records the producer's timestamp for this callback
func (s *Synchronizer) OnProducerTick(t ringbuffer.SampleTime, rateScalar float64) {
	if State(s.state.Load()) == StateUninitialized {
		return
	}
	storeFloat(&s.producerRate, sanitizeRate(rateScalar))
	s.firstProducer.CompareAndSwap(unsetTime, int64(t))
}

// OnConsumerTick returns the sample time the consumer should fetch for the
// tick at consumer time t. It returns false when the consumer should emit
// silence: before the producer has run, and on the first-contact tick.
func (s *Synchronizer) OnConsumerTick(t ringbuffer.SampleTime, rateScalar float64) (ringbuffer.SampleTime, bool) {
	s.consumerTicks.Add(1)

	state := State(s.state.Load())
	if state == StateUninitialized {
		s.silentTicks.Add(1)
		return 0, false
	}

	firstProducer := s.firstProducer.Load()
	if firstProducer == unsetTime {
		s.silentTicks.Add(1)
		return 0, false
	}

	consumerRate := sanitizeRate(rateScalar)
	storeFloat(&s.consumerRate, consumerRate)
	ratio := loadFloat(&s.producerRate) / consumerRate
	storeFloat(&s.rateRatio, ratio)
	if s.rate != nil {
		s.rate.SetRate(ratio)
	}

	if state == StateSeeded {
		s.firstConsumer.Store(int64(t))
		delta := firstProducer - int64(t)
		offset := s.seed() - delta
		s.offset.Store(offset)
		s.state.Store(int32(StateLocked))
		s.silentTicks.Add(1)

		s.logger.Info("Synchronizer locked",
			zap.Int64("first_producer", firstProducer),
			zap.Int64("first_consumer", int64(t)),
			zap.Int64("offset", offset))
		return 0, false
	}

	read := t - ringbuffer.SampleTime(s.offset.Load())
	s.lastRead.Store(int64(read))
	s.nextConsumer.Store(int64(t))
	return read, true
}

// OnFetchResult nudges the offset after a fetch at requested for frames
// frames returned status. A behind miss moves the read cursor forward by at
// least the shortfall; an ahead miss moves it back by at least the overshoot.
func (s *Synchronizer) OnFetchResult(status ringbuffer.Status, requested ringbuffer.SampleTime, frames int) {
	if State(s.state.Load()) != StateLocked {
		return
	}
	s.nextConsumer.Store(int64(requested) + s.offset.Load() + int64(frames))
	if status == ringbuffer.OK {
		return
	}

	step := s.minAdjustment
	boundsStatus, start, end := s.bounds.GetTimeBounds()

	switch {
	case status.Behind():
		s.behindMisses.Add(1)
		if boundsStatus == ringbuffer.OK {
			step = max(step, int64(start-requested))
		}
		s.offset.Add(-step)
	case status.Ahead():
		s.aheadMisses.Add(1)
		if boundsStatus == ringbuffer.OK {
			step = max(step, int64(requested+ringbuffer.SampleTime(frames)-end))
		}
		s.offset.Add(step)
	default:
		// No usable bounds: add lead time like an ahead miss
		s.overloadMisses.Add(1)
		s.offset.Add(step)
	}

	s.adjustments.Add(1)
}

// LastReadTime returns the last read time handed out by OnConsumerTick
func (s *Synchronizer) LastReadTime() ringbuffer.SampleTime {
	return ringbuffer.SampleTime(s.lastRead.Load())
}

// NextReadTime returns where a consumer tick following the last fetch would
// read under the current offset. Before any tick has been answered it
// returns 0.
func (s *Synchronizer) NextReadTime() ringbuffer.SampleTime {
	next := s.nextConsumer.Load()
	if next == unsetTime {
		return 0
	}
	return ringbuffer.SampleTime(next - s.offset.Load())
}

// Offset returns the current producer-to-consumer offset in frames
func (s *Synchronizer) Offset() int64 {
	return s.offset.Load()
}

// State returns the lifecycle stage
func (s *Synchronizer) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the synchronizer
func (s *Synchronizer) Stats() Stats {
	return Stats{
		State:          s.State(),
		Offset:         s.Offset(),
		LastReadTime:   s.LastReadTime(),
		NextReadTime:   s.NextReadTime(),
		RateRatio:      loadFloat(&s.rateRatio),
		ProducerRate:   loadFloat(&s.producerRate),
		ConsumerRate:   loadFloat(&s.consumerRate),
		ConsumerTicks:  s.consumerTicks.Load(),
		SilentTicks:    s.silentTicks.Load(),
		Adjustments:    s.adjustments.Load(),
		BehindMisses:   s.behindMisses.Load(),
		AheadMisses:    s.aheadMisses.Load(),
		OverloadMisses: s.overloadMisses.Load(),
	}
}

// sanitizeRate maps a missing or nonsensical rate scalar to nominal
func sanitizeRate(r float64) float64 {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 1
	}
	return r
}

func storeFloat(v *atomic.Uint64, f float64) {
	v.Store(math.Float64bits(f))
}

func loadFloat(v *atomic.Uint64) float64 {
	return math.Float64frombits(v.Load())
}
