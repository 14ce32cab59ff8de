// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats and integer sample conversions
package audio

import (
	"errors"
	"fmt"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// ErrInvalidFormat is returned for formats that cannot describe a stream
var ErrInvalidFormat = errors.New("audio: invalid format")

// Format describes a PCM stream. BitDepth 32 means float32 samples.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerSample returns the size of one sample of one channel
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BytesPerFrame returns the size of one interleaved frame
func (f Format) BytesPerFrame() int {
	return f.BytesPerSample() * f.Channels
}

// Validate checks that the format can describe a stream
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, f)
	}
	switch f.BitDepth {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidFormat, f.BitDepth)
	}
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// Int24ToFloat32 scales a 24-bit sample to [-1, 1)
func Int24ToFloat32(sample int32) float32 {
	return float32(sample) / 8388608.0
}
