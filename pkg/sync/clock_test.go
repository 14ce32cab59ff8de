// ABOUTME: Tests for device clock rate estimation
// ABOUTME: Tests convergence, outlier rejection and quality tracking
package sync

import (
	"testing"
	"time"

	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// feed observes a clock running at rate*nominal, one callback every period,
// with a small repeating host-time jitter
func feed(re *RateEstimator, nominal, rate float64, period time.Duration, from, count int) {
	for i := from; i < from+count; i++ {
		host := time.Duration(i)*period + time.Duration(i%3-1)*200*time.Microsecond
		sample := ringbuffer.SampleTime(float64(i) * period.Seconds() * nominal * rate)
		re.Observe(sample, host+time.Second)
	}
}

func TestRateScalarDefaultsToNominal(t *testing.T) {
	re := NewRateEstimator(48000, zaptest.NewLogger(t))

	assert.Equal(t, 1.0, re.RateScalar())
	assert.Equal(t, QualityLost, re.Quality())

	require.True(t, re.Observe(0, time.Second))
	assert.Equal(t, 1.0, re.RateScalar(), "one sample is only an anchor")
}

func TestRateEstimatorConverges(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{"nominal", 1.0},
		{"fast", 1.001},
		{"slow", 0.997},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := NewRateEstimator(48000, zaptest.NewLogger(t))
			feed(re, 48000, tt.rate, 10*time.Millisecond, 0, 1000)

			assert.InDelta(t, tt.rate, re.RateScalar(), 0.0002)
			assert.Equal(t, QualityGood, re.Quality())
		})
	}
}

func TestRateEstimatorRejectsOutliers(t *testing.T) {
	re := NewRateEstimator(48000, zaptest.NewLogger(t))
	feed(re, 48000, 1.001, 10*time.Millisecond, 0, 500)
	before := re.RateScalar()
	rejected := re.Rejected()

	// A sample time jump of a full second within one period
	ok := re.Observe(ringbuffer.SampleTime(500*480+48000*60), time.Second+500*10*time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, before, re.RateScalar())
	assert.Equal(t, QualityDegraded, re.Quality())
	assert.Equal(t, rejected+1, re.Rejected())

	// Back on track
	feed(re, 48000, 1.001, 10*time.Millisecond, 501, 10)
	assert.Equal(t, QualityGood, re.Quality())
}

func TestRateEstimatorRejectsNonMonotonic(t *testing.T) {
	re := NewRateEstimator(48000, zaptest.NewLogger(t))
	require.True(t, re.Observe(48000, 2*time.Second))
	require.True(t, re.Observe(96000, 3*time.Second))

	assert.False(t, re.Observe(96000, 4*time.Second), "sample time did not advance")
	assert.False(t, re.Observe(144000, 3*time.Second), "host time did not advance")
	assert.InDelta(t, 1.0, re.RateScalar(), 1e-9)
}

func TestRateEstimatorReset(t *testing.T) {
	re := NewRateEstimator(48000, zaptest.NewLogger(t))
	feed(re, 48000, 1.003, 10*time.Millisecond, 0, 300)
	require.NotEqual(t, 1.0, re.RateScalar())

	re.Reset()

	assert.Equal(t, 1.0, re.RateScalar())
	assert.Equal(t, QualityLost, re.Quality())
}

func TestCheckQuality(t *testing.T) {
	re := NewRateEstimator(48000, zaptest.NewLogger(t))
	now := time.Unix(1700000000, 0)
	re.now = func() time.Time { return now }

	assert.Equal(t, QualityLost, re.CheckQuality(), "never updated")

	require.True(t, re.Observe(0, time.Second))
	require.True(t, re.Observe(48000, 2*time.Second))
	assert.Equal(t, QualityGood, re.CheckQuality())

	now = now.Add(4 * time.Second)
	assert.Equal(t, QualityGood, re.CheckQuality())

	now = now.Add(2 * time.Second)
	assert.Equal(t, QualityLost, re.CheckQuality())
}
