// ABOUTME: PCM source abstraction feeding simulated capture devices
// ABOUTME: Opens a test tone, MP3 or FLAC file by path
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Source provides interleaved PCM samples scaled to the 24-bit range
type Source interface {
	// Read fills samples with interleaved frames. Returns samples written.
	Read(samples []int32) (int, error)
	SampleRate() int
	Channels() int
	// Name identifies the source for status displays
	Name() string
	Close() error
}

// Open returns a source for path. An empty path yields a 440Hz tone at
// sampleRate with channels channels; files keep their native format.
func Open(path string, sampleRate, channels int, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path == "" {
		return NewTone(sampleRate, channels, DefaultFrequency), nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	var (
		src Source
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		src, err = OpenMP3(path)
	case ".flac":
		src, err = OpenFLAC(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded audio source",
		zap.String("name", src.Name()),
		zap.Int("sample_rate", src.SampleRate()),
		zap.Int("channels", src.Channels()))
	return src, nil
}

func titleFromPath(path string) string {
	filename := filepath.Base(path)
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
