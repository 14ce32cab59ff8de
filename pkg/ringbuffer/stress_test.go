//go:build !race

// ABOUTME: Concurrent producer/consumer test for the ring buffer
// ABOUTME: Readers must only ever see a stored frame for its own time, or silence
package ringbuffer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Fetch copies bytes the writer may be overwriting and throws them away after
// re-validating the window, which the race detector reports. Build-tagged out
// of -race runs for that reason.
func TestConcurrentStoreFetch(t *testing.T) {
	const (
		channels  = 2
		capacity  = 1024
		chunk     = 64
		readChunk = 48
	)
	chunks := 200000
	if testing.Short() {
		chunks = 20000
	}

	rb := newTestBuffer(t, channels, capacity)

	var (
		done      atomic.Bool
		wg        sync.WaitGroup
		fetched   atomic.Int64
		okFetches atomic.Int64
		corrupted atomic.Int64
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Time starts well above zero so silence can never look like a frame
		ts := SampleTime(1000)
		src := makeFrames(channels, chunk, 0)
		for i := 0; i < chunks; i++ {
			for ch := 0; ch < channels; ch++ {
				for f := 0; f < chunk; f++ {
					putTag(src[ch], f, tag(ts+SampleTime(f), ch))
				}
			}
			rb.Store(src, chunk, ts)
			ts += chunk
		}
		done.Store(true)
	}()

	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(lag SampleTime) {
			defer wg.Done()
			dest := makeDest(channels, readChunk, 0)
			for !done.Load() {
				status, _, end := rb.GetTimeBounds()
				if status != OK {
					continue
				}
				start := end - lag
				st := rb.Fetch(dest, readChunk, start)
				fetched.Add(1)
				if st == OK {
					okFetches.Add(1)
				}

				for ch := 0; ch < channels; ch++ {
					for f := 0; f < readChunk; f++ {
						got := frameAt(dest, ch, f)
						if got != 0 && got != tag(start+SampleTime(f), ch) {
							corrupted.Add(1)
						}
					}
				}
			}
		}(SampleTime(256 + r*600))
	}

	wg.Wait()

	assert.Zero(t, corrupted.Load(), "reader saw frames from the wrong time")
	assert.Positive(t, fetched.Load())
	assert.Positive(t, okFetches.Load())
}

func putTag(buf []byte, frame int, v uint32) {
	i := frame * testBytesPerFrame
	buf[i] = byte(v)
	buf[i+1] = byte(v >> 8)
	buf[i+2] = byte(v >> 16)
	buf[i+3] = byte(v >> 24)
}
