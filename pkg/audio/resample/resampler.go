// ABOUTME: Rate-adjustable linear resampler for per-channel float32 audio
// ABOUTME: Pulls input on demand so playback speed can track a drifting source
package resample

import (
	"math"
	"sync/atomic"
)

const (
	// MinRate and MaxRate bound SetRate
	MinRate = 0.5
	MaxRate = 2.0

	// history frames kept between calls: the frame at the integer read
	// position and the one after it
	historyFrames = 2
)

// PullFunc fills dst[ch][:frames] with the next input frames
type PullFunc func(dst [][]float32, frames int)

// Varispeed converts between sample rates with linear interpolation and an
// adjustable playback rate.
//
// Render is called from one goroutine; SetRate may be called from any.
type Varispeed struct {
	channels   int
	maxFrames  int
	inputRate  int
	outputRate int
	baseRatio  float64
	rateBits   atomic.Uint64

	position float64
	in       [][]float32 // history followed by freshly pulled frames
	pullView [][]float32
}

// New creates a resampler rendering at most maxFrames output frames per pull
func New(channels, maxFrames, inputRate, outputRate int) *Varispeed {
	baseRatio := float64(inputRate) / float64(outputRate)
	maxPull := int(math.Ceil(float64(maxFrames)*baseRatio*MaxRate)) + 1

	v := &Varispeed{
		channels:   channels,
		maxFrames:  maxFrames,
		inputRate:  inputRate,
		outputRate: outputRate,
		baseRatio:  baseRatio,
		in:         make([][]float32, channels),
		pullView:   make([][]float32, channels),
	}
	for ch := range v.in {
		v.in[ch] = make([]float32, historyFrames+maxPull)
	}
	v.SetRate(1)
	return v
}

// SetRate sets the playback rate relative to the nominal conversion,
// clamped to [MinRate, MaxRate]
func (v *Varispeed) SetRate(rate float64) {
	if math.IsNaN(rate) {
		rate = 1
	}
	rate = min(max(rate, MinRate), MaxRate)
	v.rateBits.Store(math.Float64bits(rate))
}

// Rate returns the current playback rate
func (v *Varispeed) Rate() float64 {
	return math.Float64frombits(v.rateBits.Load())
}

// Ratio returns input frames consumed per output frame
func (v *Varispeed) Ratio() float64 {
	return v.baseRatio * v.Rate()
}

// Reset drops history and the fractional read position
func (v *Varispeed) Reset() {
	v.position = 0
	for ch := range v.in {
		clear(v.in[ch][:historyFrames])
	}
}

// Render writes frames output frames into out[ch][:frames], pulling input
// as needed. Output channels beyond the resampler's channels are zeroed.
func (v *Varispeed) Render(out [][]float32, frames int, pull PullFunc) {
	for ch := v.channels; ch < len(out); ch++ {
		clear(out[ch][:frames])
	}

	done := 0
	for done < frames {
		n := min(frames-done, v.maxFrames)
		v.render(out, done, n, pull)
		done += n
	}
}

func (v *Varispeed) render(out [][]float32, offset, frames int, pull PullFunc) {
	ratio := v.Ratio()
	end := v.position + float64(frames)*ratio
	need := int(end)

	if need > 0 {
		for ch := range v.in {
			v.pullView[ch] = v.in[ch][historyFrames : historyFrames+need]
		}
		pull(v.pullView, need)
	}

	n := min(len(out), v.channels)
	for ch := 0; ch < n; ch++ {
		in := v.in[ch]
		dst := out[ch][offset : offset+frames]
		pos := v.position
		for i := range dst {
			idx := int(pos)
			frac := float32(pos - float64(idx))
			dst[i] = in[idx]*(1-frac) + in[idx+1]*frac
			pos += ratio
		}
	}

	// Slide the last two frames down as the next call's history
	for ch := range v.in {
		in := v.in[ch]
		in[0], in[1] = in[need], in[need+1]
	}
	v.position = end - float64(need)
}
