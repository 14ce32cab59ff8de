// ABOUTME: Device clock rate estimation from sample-time/host-time pairs
// ABOUTME: Smoothed rate scalar with outlier rejection and quality tracking
package sync

import (
	"sync/atomic"
	"time"

	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	"go.uber.org/zap"
)

// Quality represents estimate quality
type Quality int32

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

const (
	defaultSmoothingRate = 0.1
	defaultMaxDeviation  = 0.05
	lostAfter            = 5 * time.Second
)

// RateEstimator measures how fast a device clock runs relative to its
// nominal sample rate.
//
// Observe must be called from a single goroutine (the device callback).
// RateScalar, Quality and CheckQuality may be called from anywhere.
type RateEstimator struct {
	nominalRate   float64
	smoothingRate float64
	maxDeviation  float64
	logger        *zap.Logger
	now           func() time.Time

	// callback goroutine only
	anchorSample ringbuffer.SampleTime
	anchorHost   time.Duration
	lastSample   ringbuffer.SampleTime
	lastHost     time.Duration
	sampleCount  int
	rate         float64

	rateBits   atomic.Uint64
	quality    atomic.Int32
	lastUpdate atomic.Int64 // unix nanos
	rejected   atomic.Uint64
}

// NewRateEstimator creates an estimator for a clock nominally running at
// nominalRate frames per second
func NewRateEstimator(nominalRate float64, logger *zap.Logger) *RateEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	re := &RateEstimator{
		nominalRate:   nominalRate,
		smoothingRate: defaultSmoothingRate, // 10% weight to new samples
		maxDeviation:  defaultMaxDeviation,
		logger:        logger,
		now:           time.Now,
	}
	re.Reset()
	return re
}

// Reset forgets all observations
func (re *RateEstimator) Reset() {
	re.sampleCount = 0
	re.rate = 1
	storeFloat(&re.rateBits, 1)
	re.quality.Store(int32(QualityLost))
	re.lastUpdate.Store(0)
}

// Observe feeds one (sample time, host time) pair. hostTime is a monotonic
// duration from any fixed origin. Returns false when the sample was rejected.
func (re *RateEstimator) Observe(sampleTime ringbuffer.SampleTime, hostTime time.Duration) bool {
	// First sample: anchor only
	if re.sampleCount == 0 {
		re.anchorSample, re.anchorHost = sampleTime, hostTime
		re.lastSample, re.lastHost = sampleTime, hostTime
		re.sampleCount++
		return true
	}

	if sampleTime <= re.lastSample || hostTime <= re.lastHost {
		re.rejected.Add(1)
		return false
	}

	// Measure over the whole baseline so callback jitter averages out
	elapsed := (hostTime - re.anchorHost).Seconds()
	measured := float64(sampleTime-re.anchorSample) / elapsed / re.nominalRate

	if measured < 1-re.maxDeviation || measured > 1+re.maxDeviation {
		re.rejected.Add(1)
		if re.sampleCount > 1 {
			re.setQuality(QualityDegraded)
		}
		return false
	}

	re.lastSample, re.lastHost = sampleTime, hostTime

	if re.sampleCount == 1 {
		re.rate = measured
		re.logger.Debug("Rate estimate initialized", zap.Float64("rate", measured))
	} else {
		re.rate += re.smoothingRate * (measured - re.rate)
	}
	re.sampleCount++

	storeFloat(&re.rateBits, re.rate)
	re.lastUpdate.Store(re.now().UnixNano())
	re.setQuality(QualityGood)
	return true
}

func (re *RateEstimator) setQuality(q Quality) {
	if old := Quality(re.quality.Swap(int32(q))); old != q {
		re.logger.Debug("Rate estimate quality changed",
			zap.Stringer("from", old),
			zap.Stringer("to", q))
	}
}

// RateScalar returns the smoothed rate relative to nominal, 1.0 until two
// samples have been accepted
func (re *RateEstimator) RateScalar() float64 {
	return loadFloat(&re.rateBits)
}

// Quality returns the last computed quality
func (re *RateEstimator) Quality() Quality {
	return Quality(re.quality.Load())
}

// Rejected returns how many samples were discarded
func (re *RateEstimator) Rejected() uint64 {
	return re.rejected.Load()
}

// CheckQuality marks the estimate lost when no update arrived recently
func (re *RateEstimator) CheckQuality() Quality {
	last := re.lastUpdate.Load()
	if last == 0 || re.now().Sub(time.Unix(0, last)) > lostAfter {
		re.quality.Store(int32(QualityLost))
	}
	return re.Quality()
}
