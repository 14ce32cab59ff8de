// ABOUTME: Looping FLAC file source
// ABOUTME: Decodes with mewkiz/flac and scales samples to the 24-bit range
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// FLAC reads a FLAC stream, starting over at the end
type FLAC struct {
	r          io.ReadSeeker
	stream     *flac.Stream
	name       string
	sampleRate int
	channels   int
	bitDepth   int

	// frame being drained and the next sample index in it
	pending *frame.Frame
	next    int
}

// OpenFLAC opens a FLAC file
func OpenFLAC(path string) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	s, err := NewFLAC(f, titleFromPath(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewFLAC decodes FLAC data from r. r is closed by Close when it is an io.Closer.
func NewFLAC(r io.ReadSeeker, name string) (*FLAC, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	info := stream.Info
	return &FLAC{
		r:          r,
		stream:     stream,
		name:       name,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
	}, nil
}

func (s *FLAC) Read(samples []int32) (int, error) {
	written := 0
	restarted := false

	for len(samples)-written >= s.channels {
		if s.pending == nil || s.next >= int(s.pending.BlockSize) {
			f, err := s.stream.ParseNext()
			if errors.Is(err, io.EOF) {
				if restarted {
					// Nothing decodable even after rewinding
					return written, nil
				}
				if err := s.rewind(); err != nil {
					return written, err
				}
				restarted = true
				continue
			}
			if err != nil {
				return written, err
			}
			s.pending, s.next = f, 0
		}

		for s.next < int(s.pending.BlockSize) && len(samples)-written >= s.channels {
			for ch := 0; ch < s.channels; ch++ {
				samples[written] = s.scale(s.pending.Subframes[ch].Samples[s.next])
				written++
			}
			s.next++
		}
	}

	return written, nil
}

func (s *FLAC) rewind() error {
	if _, err := s.r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(s.r)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	s.stream = stream
	s.pending = nil
	return nil
}

// scale moves a sample of the stream's bit depth into the 24-bit range
func (s *FLAC) scale(sample int32) int32 {
	shift := s.bitDepth - 24
	switch {
	case shift > 0:
		return sample >> shift
	case shift < 0:
		return sample << -shift
	default:
		return sample
	}
}

func (s *FLAC) SampleRate() int { return s.sampleRate }
func (s *FLAC) Channels() int   { return s.channels }
func (s *FLAC) Name() string    { return s.name }

func (s *FLAC) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
