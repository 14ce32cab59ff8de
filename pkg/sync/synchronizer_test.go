// ABOUTME: Tests for the stream synchronizer
// ABOUTME: Covers seeding, first contact, miss correction and drift convergence
package sync

import (
	"testing"

	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeBounds struct {
	status     ringbuffer.Status
	start, end ringbuffer.SampleTime
}

func (f *fakeBounds) GetTimeBounds() (ringbuffer.Status, ringbuffer.SampleTime, ringbuffer.SampleTime) {
	return f.status, f.start, f.end
}

type fakeRate struct {
	calls int
	last  float64
}

func (f *fakeRate) SetRate(ratio float64) {
	f.calls++
	f.last = ratio
}

var (
	testInput  = Latency{SafetyOffset: 32, BufferFrames: 512}
	testOutput = Latency{SafetyOffset: 24, BufferFrames: 432}
)

const testSeed = 32 + 512 + 24 + 432

func newTestSynchronizer(t *testing.T, bounds BoundsSource, rate RateController) *Synchronizer {
	t.Helper()
	return NewSynchronizer(bounds, rate, testInput, testOutput, DefaultConfig(), zaptest.NewLogger(t))
}

// lockAt drives first contact with the given first timestamps
func lockAt(t *testing.T, s *Synchronizer, producer, consumer ringbuffer.SampleTime) {
	t.Helper()
	s.OnStreamsRestarted()
	s.OnProducerTick(producer, 1)
	_, ok := s.OnConsumerTick(consumer, 1)
	require.False(t, ok, "first-contact tick must be silent")
	require.Equal(t, StateLocked, s.State())
}

func TestSynchronizerStartsUninitialized(t *testing.T) {
	s := newTestSynchronizer(t, &fakeBounds{}, nil)

	assert.Equal(t, StateUninitialized, s.State())

	s.OnProducerTick(100, 1)
	_, ok := s.OnConsumerTick(200, 1)
	assert.False(t, ok)
	assert.Equal(t, StateUninitialized, s.State())
}

func TestOnStreamsRestartedSeedsOffset(t *testing.T) {
	s := newTestSynchronizer(t, &fakeBounds{}, nil)

	s.OnStreamsRestarted()

	assert.Equal(t, StateSeeded, s.State())
	assert.Equal(t, int64(testSeed), s.Offset())
}

func TestConsumerSilentUntilProducerRuns(t *testing.T) {
	rate := &fakeRate{}
	s := newTestSynchronizer(t, &fakeBounds{}, rate)
	s.OnStreamsRestarted()

	for i := 0; i < 5; i++ {
		_, ok := s.OnConsumerTick(ringbuffer.SampleTime(i*512), 1)
		assert.False(t, ok)
	}
	assert.Equal(t, StateSeeded, s.State())
	assert.Zero(t, rate.calls)
	assert.Equal(t, uint64(5), s.Stats().SilentTicks)
}

func TestFirstContactCorrection(t *testing.T) {
	tests := []struct {
		name           string
		producer       ringbuffer.SampleTime
		consumer       ringbuffer.SampleTime
		expectedOffset int64
	}{
		{"producer ahead", 5000, 200, testSeed - 4800},
		{"consumer ahead", 100, 300, testSeed + 200},
		{"aligned", 700, 700, testSeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSynchronizer(t, &fakeBounds{}, nil)
			lockAt(t, s, tt.producer, tt.consumer)

			assert.Equal(t, tt.expectedOffset, s.Offset())

			// One tick later the reader trails the first producer frame by the seed
			read, ok := s.OnConsumerTick(tt.consumer+512, 1)
			require.True(t, ok)
			assert.Equal(t, tt.producer-testSeed+512, read)
			assert.Equal(t, read, s.LastReadTime())
		})
	}
}

func TestFirstProducerTimeKeptUntilRestart(t *testing.T) {
	s := newTestSynchronizer(t, &fakeBounds{}, nil)
	s.OnStreamsRestarted()

	s.OnProducerTick(1000, 1)
	s.OnProducerTick(1512, 1)
	s.OnConsumerTick(0, 1)

	assert.Equal(t, int64(testSeed-1000), s.Offset())
}

func TestRateRatioForwarded(t *testing.T) {
	rate := &fakeRate{}
	s := newTestSynchronizer(t, &fakeBounds{}, rate)
	lockAt(t, s, 0, 0)

	s.OnProducerTick(512, 1.002)
	_, ok := s.OnConsumerTick(512, 0.998)
	require.True(t, ok)

	assert.InDelta(t, 1.002/0.998, rate.last, 1e-12)
	assert.InDelta(t, 1.002/0.998, s.Stats().RateRatio, 1e-12)

	// Missing scalars count as nominal
	s.OnProducerTick(1024, 0)
	s.OnConsumerTick(1024, -1)
	assert.Equal(t, 1.0, rate.last)
}

func TestOnFetchResult(t *testing.T) {
	tests := []struct {
		name      string
		status    ringbuffer.Status
		bounds    fakeBounds
		requested ringbuffer.SampleTime
		frames    int
		change    int64
	}{
		{"ok", ringbuffer.OK, fakeBounds{ringbuffer.OK, 1000, 2000}, 1200, 100, 0},
		{"small shortfall", ringbuffer.SlightlyBehind, fakeBounds{ringbuffer.OK, 1000, 2000}, 950, 100, -128},
		{"shortfall moves read forward", ringbuffer.SlightlyBehind, fakeBounds{ringbuffer.OK, 1000, 1512}, 950, 100, -128},
		{"large shortfall", ringbuffer.WayBehind, fakeBounds{ringbuffer.OK, 1000, 2000}, 500, 100, -500},
		{"small overshoot", ringbuffer.SlightlyAhead, fakeBounds{ringbuffer.OK, 1000, 2000}, 1950, 100, 128},
		{"large overshoot", ringbuffer.WayAhead, fakeBounds{ringbuffer.OK, 1000, 2000}, 2500, 100, 600},
		{"too much", ringbuffer.TooMuch, fakeBounds{ringbuffer.OK, 1000, 2000}, 900, 1300, 200},
		{"overload", ringbuffer.CPUOverload, fakeBounds{ringbuffer.CPUOverload, 0, 0}, 1200, 100, 128},
		{"behind without bounds", ringbuffer.SlightlyBehind, fakeBounds{ringbuffer.CPUOverload, 0, 0}, 500, 100, -128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bounds := tt.bounds
			s := newTestSynchronizer(t, &bounds, nil)
			lockAt(t, s, 0, 0)
			before := s.Offset()

			s.OnFetchResult(tt.status, tt.requested, tt.frames)

			assert.Equal(t, tt.change, s.Offset()-before)
		})
	}
}

func TestNextReadTime(t *testing.T) {
	bounds := &fakeBounds{ringbuffer.OK, 1000, 1512}
	s := newTestSynchronizer(t, bounds, nil)
	assert.Zero(t, s.NextReadTime())

	lockAt(t, s, 1000+testSeed, 0)
	assert.Zero(t, s.NextReadTime())

	read, ok := s.OnConsumerTick(512, 1)
	require.True(t, ok)
	assert.Equal(t, ringbuffer.SampleTime(1512), read)
	assert.Equal(t, read, s.LastReadTime())
	assert.Equal(t, read, s.NextReadTime())

	s.OnFetchResult(ringbuffer.SlightlyAhead, read, 100)
	assert.Equal(t, read, s.LastReadTime())
	// The ahead miss added 128 frames of lead
	assert.Equal(t, read+100-128, s.NextReadTime())

	next, ok := s.OnConsumerTick(612, 1)
	require.True(t, ok)
	assert.Equal(t, next, s.LastReadTime())
	assert.Equal(t, read+100-128, next)

	s.Reset()
	assert.Zero(t, s.NextReadTime())
	assert.Zero(t, s.LastReadTime())
}

func TestOnFetchResultIgnoredUntilLocked(t *testing.T) {
	bounds := &fakeBounds{ringbuffer.OK, 1000, 2000}
	s := newTestSynchronizer(t, bounds, nil)
	s.OnStreamsRestarted()

	s.OnFetchResult(ringbuffer.WayAhead, 5000, 100)

	assert.Equal(t, int64(testSeed), s.Offset())
	assert.Zero(t, s.Stats().Adjustments)
}

func TestCustomMinAdjustment(t *testing.T) {
	bounds := &fakeBounds{ringbuffer.OK, 1000, 2000}
	s := NewSynchronizer(bounds, nil, testInput, testOutput, Config{MinAdjustment: 32}, nil)
	lockAt(t, s, 0, 0)
	before := s.Offset()

	s.OnFetchResult(ringbuffer.SlightlyAhead, 1990, 20)

	assert.Equal(t, int64(32), s.Offset()-before)
}

func TestReset(t *testing.T) {
	s := newTestSynchronizer(t, &fakeBounds{}, nil)
	lockAt(t, s, 100, 200)

	s.Reset()

	assert.Equal(t, StateUninitialized, s.State())
	_, ok := s.OnConsumerTick(1000, 1)
	assert.False(t, ok)

	// A restart needs a fresh first contact
	s.OnStreamsRestarted()
	s.OnProducerTick(9000, 1)
	s.OnConsumerTick(1000, 1)
	assert.Equal(t, StateLocked, s.State())
	assert.Equal(t, int64(testSeed-8000), s.Offset())
}

type simResult struct {
	ticks       int
	ok          int
	adjustments []int64
	stats       Stats
}

// simulate runs producer and consumer in lockstep ticks over a real ring
// buffer. The producer stores producerFrames per tick, the consumer fetches
// consumerFrames per tick, so their clocks drift apart.
func simulate(t *testing.T, producerFrames, consumerFrames int, input, output Latency, ticks int) simResult {
	t.Helper()

	rb, err := ringbuffer.New(1, 4, 4096)
	require.NoError(t, err)

	s := NewSynchronizer(rb, &fakeRate{}, input, output, DefaultConfig(), zaptest.NewLogger(t))
	s.OnStreamsRestarted()

	src := [][]byte{make([]byte, producerFrames*4)}
	dst := [][]byte{make([]byte, consumerFrames*4)}
	ratio := float64(producerFrames) / float64(consumerFrames)

	var (
		res      simResult
		producer ringbuffer.SampleTime
		consumer ringbuffer.SampleTime = 77777
	)
	for i := 0; i < ticks; i++ {
		s.OnProducerTick(producer, ratio)
		require.Equal(t, ringbuffer.OK, rb.Store(src, producerFrames, producer))
		producer += ringbuffer.SampleTime(producerFrames)

		read, ok := s.OnConsumerTick(consumer, 1)
		consumer += ringbuffer.SampleTime(consumerFrames)
		if !ok {
			continue
		}

		res.ticks++
		before := s.Offset()
		status := rb.Fetch(dst, consumerFrames, read)
		s.OnFetchResult(status, read, consumerFrames)
		if status == ringbuffer.OK {
			res.ok++
		} else {
			res.adjustments = append(res.adjustments, s.Offset()-before)
		}
	}
	res.stats = s.Stats()
	return res
}

func TestConvergesWhenConsumerFallsBehind(t *testing.T) {
	// A seed larger than the ring starts the reader way behind, and a slower
	// consumer keeps drifting back toward the window start
	res := simulate(t, 256, 250, Latency{SafetyOffset: 5744, BufferFrames: 256}, Latency{}, 3000)

	require.NotEmpty(t, res.adjustments)
	for i, adj := range res.adjustments {
		assert.Negative(t, adj, "adjustment %d moved the read cursor the wrong way", i)
	}
	assert.Zero(t, res.stats.AheadMisses)
	assert.Greater(t, float64(res.ok)/float64(res.ticks), 0.9)
}

func TestConvergesWhenConsumerRunsAhead(t *testing.T) {
	res := simulate(t, 256, 260, Latency{BufferFrames: 64}, Latency{BufferFrames: 64}, 3000)

	require.NotEmpty(t, res.adjustments)
	for i, adj := range res.adjustments {
		assert.Positive(t, adj, "adjustment %d moved the read cursor the wrong way", i)
	}
	assert.Zero(t, res.stats.BehindMisses)
	assert.Greater(t, float64(res.ok)/float64(res.ticks), 0.9)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "seeded", StateSeeded.String())
	assert.Equal(t, "locked", StateLocked.String())
	assert.Equal(t, "unknown", State(42).String())
}
