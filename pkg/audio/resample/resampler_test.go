// ABOUTME: Tests for the varispeed resampler
// ABOUTME: Tests pull accounting, continuity across calls and rate clamping
package resample

import (
	"math"
	"testing"
)

// ramp is a pull source whose every channel yields 0, 1, 2, ...
type ramp struct {
	next   float32
	pulled int
	calls  int
}

func (r *ramp) pull(dst [][]float32, frames int) {
	r.calls++
	for f := 0; f < frames; f++ {
		for ch := range dst {
			dst[ch][f] = r.next + float32(ch)*1000
		}
		r.next++
	}
	r.pulled += frames
}

func TestNewVarispeed(t *testing.T) {
	v := New(2, 512, 44100, 48000)

	if v.channels != 2 {
		t.Errorf("expected channels 2, got %d", v.channels)
	}
	if v.Rate() != 1 {
		t.Errorf("expected rate 1, got %f", v.Rate())
	}
	if math.Abs(v.Ratio()-44100.0/48000.0) > 1e-12 {
		t.Errorf("expected ratio %f, got %f", 44100.0/48000.0, v.Ratio())
	}
}

func TestSetRateClamps(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{"nominal", 1, 1},
		{"slightly fast", 1.001, 1.001},
		{"too slow", 0.1, MinRate},
		{"too fast", 5, MaxRate},
		{"nan", math.NaN(), 1},
	}

	v := New(1, 64, 48000, 48000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v.SetRate(tt.input)
			if v.Rate() != tt.expected {
				t.Errorf("expected %f, got %f", tt.expected, v.Rate())
			}
		})
	}
}

func TestRenderPullsRatioFrames(t *testing.T) {
	tests := []struct {
		name       string
		inputRate  int
		outputRate int
		rate       float64
	}{
		{"identity", 48000, 48000, 1},
		{"upsample", 44100, 48000, 1},
		{"downsample", 96000, 48000, 1},
		{"fast producer", 48000, 48000, 1.0005},
		{"slow producer", 48000, 48000, 0.999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(2, 256, tt.inputRate, tt.outputRate)
			v.SetRate(tt.rate)
			src := &ramp{}
			out := [][]float32{make([]float32, 256), make([]float32, 256)}

			const calls = 400
			for i := 0; i < calls; i++ {
				v.Render(out, 256, src.pull)
			}

			expected := float64(calls*256) * v.Ratio()
			if math.Abs(float64(src.pulled)-expected) > 1 {
				t.Errorf("expected ~%.1f frames pulled, got %d", expected, src.pulled)
			}
		})
	}
}

func TestRenderIsContinuousAcrossCalls(t *testing.T) {
	v := New(2, 128, 44100, 48000)
	v.SetRate(1.01)
	ratio := v.Ratio()
	src := &ramp{}

	// Odd call sizes, including ones larger than maxFrames
	sizes := []int{1, 7, 128, 300, 64, 33, 129}
	out := [][]float32{make([]float32, 300), make([]float32, 300)}

	produced := 0
	for _, n := range sizes {
		v.Render(out, n, src.pull)
		for i := 0; i < n; i++ {
			// A ramp interpolates exactly; two history frames delay the input
			want := float64(produced+i)*ratio - 2
			if want < 0 {
				continue
			}
			for ch := 0; ch < 2; ch++ {
				got := float64(out[ch][i]) - float64(ch)*1000
				if math.Abs(got-want) > 0.01 {
					t.Fatalf("frame %d channel %d: expected %.3f, got %.3f", produced+i, ch, want, got)
				}
			}
		}
		produced += n
	}
}

func TestRenderZeroesExtraOutputChannels(t *testing.T) {
	v := New(1, 64, 48000, 48000)
	out := [][]float32{make([]float32, 64), make([]float32, 64)}
	for i := range out[1] {
		out[1][i] = 1
	}

	v.Render(out, 64, (&ramp{}).pull)

	for i, s := range out[1] {
		if s != 0 {
			t.Fatalf("expected silence at %d, got %f", i, s)
		}
	}
}

func TestReset(t *testing.T) {
	v := New(1, 64, 44100, 48000)
	src := &ramp{}
	out := [][]float32{make([]float32, 64)}
	v.Render(out, 64, src.pull)

	v.Reset()

	if v.position != 0 {
		t.Errorf("expected position 0, got %f", v.position)
	}
	if v.in[0][0] != 0 || v.in[0][1] != 0 {
		t.Errorf("expected cleared history, got %f %f", v.in[0][0], v.in[0][1])
	}
}
