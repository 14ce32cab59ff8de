// ABOUTME: Looping MP3 file source
// ABOUTME: Decodes with go-mp3 and scales 16-bit output to the 24-bit range
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
	"github.com/liscio/playthrough-go/pkg/audio"
)

// MP3 reads an MP3 stream, starting over at the end
type MP3 struct {
	r       io.ReadSeeker
	decoder *mp3.Decoder
	name    string
	buf     []byte
}

// OpenMP3 opens an MP3 file
func OpenMP3(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	s, err := NewMP3(f, titleFromPath(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewMP3 decodes MP3 data from r. r is closed by Close when it is an io.Closer.
func NewMP3(r io.ReadSeeker, name string) (*MP3, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	return &MP3{r: r, decoder: decoder, name: name}, nil
}

func (s *MP3) Read(samples []int32) (int, error) {
	// The decoder always yields 16-bit little-endian stereo
	numBytes := len(samples) * 2
	if cap(s.buf) < numBytes {
		s.buf = make([]byte, numBytes)
	}
	buf := s.buf[:numBytes]

	n, err := s.decoder.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	numSamples := n / 2
	for i := 0; i < numSamples; i++ {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	}

	if errors.Is(err, io.EOF) {
		if _, seekErr := s.r.Seek(0, io.SeekStart); seekErr != nil {
			return numSamples, fmt.Errorf("failed to seek to start: %w", seekErr)
		}
		decoder, decErr := mp3.NewDecoder(s.r)
		if decErr != nil {
			return numSamples, fmt.Errorf("failed to create new decoder: %w", decErr)
		}
		s.decoder = decoder
	}

	return numSamples, nil
}

func (s *MP3) SampleRate() int { return s.decoder.SampleRate() }
func (s *MP3) Channels() int   { return 2 }
func (s *MP3) Name() string    { return s.name }

func (s *MP3) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
