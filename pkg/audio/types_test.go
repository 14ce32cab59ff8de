// ABOUTME: Tests for audio types
// ABOUTME: Tests formats and sample conversion functions
package audio

import (
	"errors"
	"testing"
)

func TestSampleFromInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int16
		expected int32
	}{
		{"zero", 0, 0},
		{"positive", 100, 100 << 8},
		{"negative", -100, -100 << 8},
		{"max", 32767, 32767 << 8},
		{"min", -32768, -32768 << 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFromInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestFormatSizes(t *testing.T) {
	tests := []struct {
		name          string
		format        Format
		bytesPerSamp  int
		bytesPerFrame int
	}{
		{"16-bit stereo", Format{44100, 2, 16}, 2, 4},
		{"24-bit mono", Format{96000, 1, 24}, 3, 3},
		{"float 6ch", Format{48000, 6, 32}, 4, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.BytesPerSample(); got != tt.bytesPerSamp {
				t.Errorf("expected %d bytes per sample, got %d", tt.bytesPerSamp, got)
			}
			if got := tt.format.BytesPerFrame(); got != tt.bytesPerFrame {
				t.Errorf("expected %d bytes per frame, got %d", tt.bytesPerFrame, got)
			}
		})
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"valid", Format{48000, 2, 32}, false},
		{"zero rate", Format{0, 2, 32}, true},
		{"zero channels", Format{48000, 0, 16}, true},
		{"odd depth", Format{48000, 2, 12}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}

func TestInt24ToFloat32(t *testing.T) {
	tests := []struct {
		name     string
		input    int32
		expected float32
	}{
		{"zero", 0, 0},
		{"half", 4194304, 0.5},
		{"negative half", -4194304, -0.5},
		{"min", Min24Bit, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Int24ToFloat32(tt.input); got != tt.expected {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}
