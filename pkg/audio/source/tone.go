// ABOUTME: Test tone generator
// ABOUTME: Generates a sine wave on every channel
package source

import (
	"fmt"
	"math"
	"sync"

	"github.com/liscio/playthrough-go/pkg/audio"
)

// DefaultFrequency is A4
const DefaultFrequency = 440.0

// Tone generates a sine wave at half scale
type Tone struct {
	mu          sync.Mutex
	sampleIndex uint64
	frequency   float64
	sampleRate  int
	channels    int
}

// NewTone creates a tone generator
func NewTone(sampleRate, channels int, frequency float64) *Tone {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels <= 0 {
		channels = 2
	}
	return &Tone{
		frequency:  frequency,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (s *Tone) Read(samples []int32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(samples) / s.channels
	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.sampleRate)
		v := int32(math.Sin(2*math.Pi*s.frequency*t) * audio.Max24Bit * 0.5)
		for ch := 0; ch < s.channels; ch++ {
			samples[i*s.channels+ch] = v
		}
	}
	s.sampleIndex += uint64(frames)

	return frames * s.channels, nil
}

func (s *Tone) SampleRate() int { return s.sampleRate }
func (s *Tone) Channels() int   { return s.channels }
func (s *Tone) Name() string    { return fmt.Sprintf("Test Tone (%.0fHz)", s.frequency) }
func (s *Tone) Close() error    { return nil }
