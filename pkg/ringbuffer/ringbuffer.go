// ABOUTME: Lock-free time-indexed ring buffer for multichannel audio frames
// ABOUTME: One writer stores frames by sample time, readers fetch by sample time
package ringbuffer

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
)

const (
	boundsQueueSize = 8
	boundsQueueMask = boundsQueueSize - 1

	// boundsReadAttempts bounds the seqlock retry loop in GetTimeBounds
	boundsReadAttempts = 8

	// invalidCounter marks a history slot the writer is rewriting
	invalidCounter = ^uint64(0)
)

// ErrInvalidFormat is returned by Allocate for non-positive parameters
var ErrInvalidFormat = errors.New("ringbuffer: invalid format")

// timeBounds is one entry of the bounds history. Every field is atomic so a
// reader racing the writer sees either old or new values, never torn words.
type timeBounds struct {
	startTime     atomic.Int64
	endTime       atomic.Int64
	updateCounter atomic.Uint64
}

// RingBuffer stores deinterleaved frames addressed by sample time.
//
// Exactly one goroutine may call Store. Any number of goroutines may call
// Fetch and GetTimeBounds concurrently with it. Allocate and Deallocate must
// not run concurrently with either.
type RingBuffer struct {
	buffers        [][]byte
	channels       int
	bytesPerFrame  int
	capacityFrames int
	capacityMask   int64

	boundsQueue    [boundsQueueSize]timeBounds
	boundsQueuePtr atomic.Uint64

	// afterCopy runs in Fetch between the copy and the re-check; tests only
	afterCopy func()
}

// New creates and allocates a ring buffer
func New(channels, bytesPerFrame, capacityFrames int) (*RingBuffer, error) {
	rb := &RingBuffer{}
	if err := rb.Allocate(channels, bytesPerFrame, capacityFrames); err != nil {
		return nil, err
	}
	return rb, nil
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n <= 1)
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Allocate (re)allocates zeroed storage and resets the valid window to [0,0).
// capacityFrames is rounded up to the next power of two.
func (rb *RingBuffer) Allocate(channels, bytesPerFrame, capacityFrames int) error {
	if channels < 1 || bytesPerFrame < 1 || capacityFrames < 1 {
		return fmt.Errorf("%w: channels=%d bytesPerFrame=%d capacityFrames=%d",
			ErrInvalidFormat, channels, bytesPerFrame, capacityFrames)
	}

	rb.Deallocate()

	capacityFrames = NextPowerOfTwo(capacityFrames)
	capacityBytes := capacityFrames * bytesPerFrame

	// One allocation, split into per-channel regions
	mem := make([]byte, capacityBytes*channels)
	rb.buffers = make([][]byte, channels)
	for i := range rb.buffers {
		rb.buffers[i] = mem[i*capacityBytes : (i+1)*capacityBytes : (i+1)*capacityBytes]
	}

	rb.channels = channels
	rb.bytesPerFrame = bytesPerFrame
	rb.capacityFrames = capacityFrames
	rb.capacityMask = int64(capacityFrames - 1)
	rb.resetBounds()

	return nil
}

// Deallocate releases storage. Store and Fetch on a deallocated buffer
// never touch memory: any non-empty write reports TooMuch.
func (rb *RingBuffer) Deallocate() {
	rb.buffers = nil
	rb.channels = 0
	rb.capacityFrames = 0
	rb.capacityMask = 0
	rb.resetBounds()
}

func (rb *RingBuffer) resetBounds() {
	for i := range rb.boundsQueue {
		rb.boundsQueue[i].startTime.Store(0)
		rb.boundsQueue[i].endTime.Store(0)
		rb.boundsQueue[i].updateCounter.Store(0)
	}
	rb.boundsQueuePtr.Store(0)
}

// CapacityFrames returns the rounded-up capacity
func (rb *RingBuffer) CapacityFrames() int { return rb.capacityFrames }

// BytesPerFrame returns the per-channel frame size
func (rb *RingBuffer) BytesPerFrame() int { return rb.bytesPerFrame }

// Channels returns the number of channels
func (rb *RingBuffer) Channels() int { return rb.channels }

// Store writes frames for [startWrite, startWrite+framesToWrite). channelData
// holds one slice per channel, each at least framesToWrite*BytesPerFrame long.
// Returns TooMuch (buffer untouched) when the span exceeds the capacity.
func (rb *RingBuffer) Store(channelData [][]byte, framesToWrite int, startWrite SampleTime) Status {
	if framesToWrite < 0 || framesToWrite > rb.capacityFrames {
		return TooMuch
	}

	capacity := SampleTime(rb.capacityFrames)
	endWrite := startWrite + SampleTime(framesToWrite)

	if startWrite < rb.endTime() {
		// Going backwards: everything stored so far becomes unreachable
		rb.setTimeBounds(startWrite, startWrite)
	} else if endWrite-rb.startTime() > capacity {
		// Move the start past the region about to be overwritten, and publish
		// that before touching the bytes
		newStart := endWrite - capacity
		newEnd := max(newStart, rb.endTime())
		rb.setTimeBounds(newStart, newEnd)
	}

	if end := rb.endTime(); startWrite > end {
		// Skipped samples read back as silence
		rb.zeroStorage(end, int(startWrite-end))
	}

	rb.storeFrames(channelData, startWrite, framesToWrite)

	rb.setTimeBounds(rb.startTime(), endWrite)

	return OK
}

// Fetch reads frames for [startRead, startRead+framesToRead) into
// channelData. Frames outside the valid window are zero-filled, so the
// destination is always fully written.
func (rb *RingBuffer) Fetch(channelData [][]byte, framesToRead int, startRead SampleTime) Status {
	if framesToRead < 0 {
		return TooMuch
	}

	// Channels the buffer does not carry are silent
	for ch := rb.channels; ch < len(channelData); ch++ {
		clear(channelData[ch][:framesToRead*rb.bytesPerFrame])
	}

	endRead := startRead + SampleTime(framesToRead)

	status, start, end := rb.clipTimeBounds(startRead, endRead)
	if status == CPUOverload {
		rb.zeroDest(channelData, 0, framesToRead)
		return status
	}

	readFrames := int(end - start)
	if readFrames <= 0 {
		rb.zeroDest(channelData, 0, framesToRead)
		return status
	}

	lead := int(start - startRead)
	if lead > 0 {
		rb.zeroDest(channelData, 0, lead)
	}
	if trail := int(endRead - end); trail > 0 {
		rb.zeroDest(channelData, lead+readFrames, trail)
	}

	rb.fetchFrames(channelData, lead, start, readFrames)
	if rb.afterCopy != nil {
		rb.afterCopy()
	}

	// The writer may have moved on while we copied
	after, keepStart, keepEnd := rb.clipTimeBounds(start, end)
	if after == CPUOverload {
		rb.zeroDest(channelData, 0, framesToRead)
		return CPUOverload
	}
	if keepEnd <= keepStart {
		keepStart, keepEnd = start, start
	}
	if n := int(keepStart - start); n > 0 {
		rb.zeroDest(channelData, lead, n)
	}
	if n := int(end - keepEnd); n > 0 {
		rb.zeroDest(channelData, lead+int(keepEnd-start), n)
	}

	return Worse(status, after)
}

// GetTimeBounds returns the published valid window [start, end). It reports
// CPUOverload when no consistent snapshot was seen within a few attempts.
func (rb *RingBuffer) GetTimeBounds() (Status, SampleTime, SampleTime) {
	for i := 0; i < boundsReadAttempts; i++ {
		ptr := rb.boundsQueuePtr.Load()
		bounds := &rb.boundsQueue[ptr&boundsQueueMask]

		if bounds.updateCounter.Load() != ptr {
			continue
		}
		start := bounds.startTime.Load()
		end := bounds.endTime.Load()
		if bounds.updateCounter.Load() == ptr {
			return OK, SampleTime(start), SampleTime(end)
		}
	}
	return CPUOverload, 0, 0
}

// clipTimeBounds clips [startRead, endRead) against the valid window and
// classifies the miss. Comparisons are kept literal: a read starting exactly
// at the end of the window is SlightlyAhead, not WayAhead.
func (rb *RingBuffer) clipTimeBounds(startRead, endRead SampleTime) (Status, SampleTime, SampleTime) {
	status, startTime, endTime := rb.GetTimeBounds()
	if status != OK {
		return status, startRead, endRead
	}

	if startRead < startTime {
		startRead = startTime

		if endRead > endTime {
			return TooMuch, startRead, endTime
		}
		if endRead < startTime {
			return WayBehind, startRead, startTime
		}
		return SlightlyBehind, startRead, endRead
	}

	if endRead > endTime {
		if startRead > endTime {
			return WayAhead, endTime, endTime
		}
		return SlightlyAhead, startRead, endTime
	}

	return OK, startRead, endRead
}

// setTimeBounds publishes a new window. Writer only.
func (rb *RingBuffer) setTimeBounds(startTime, endTime SampleTime) {
	next := rb.boundsQueuePtr.Load() + 1
	bounds := &rb.boundsQueue[next&boundsQueueMask]

	bounds.updateCounter.Store(invalidCounter)
	bounds.startTime.Store(int64(startTime))
	bounds.endTime.Store(int64(endTime))
	bounds.updateCounter.Store(next)

	rb.boundsQueuePtr.Store(next)
}

// startTime and endTime read the writer's own latest publication
func (rb *RingBuffer) startTime() SampleTime {
	return SampleTime(rb.boundsQueue[rb.boundsQueuePtr.Load()&boundsQueueMask].startTime.Load())
}

func (rb *RingBuffer) endTime() SampleTime {
	return SampleTime(rb.boundsQueue[rb.boundsQueuePtr.Load()&boundsQueueMask].endTime.Load())
}

// segments maps frames starting at t onto at most two byte ranges of the
// storage: [offset, offset+first) and, when wrapping, [0, second).
func (rb *RingBuffer) segments(t SampleTime, frames int) (offset, first, second int) {
	frame := int(int64(t) & rb.capacityMask)
	n0 := min(frames, rb.capacityFrames-frame)
	return frame * rb.bytesPerFrame, n0 * rb.bytesPerFrame, (frames - n0) * rb.bytesPerFrame
}

func (rb *RingBuffer) storeFrames(channelData [][]byte, t SampleTime, frames int) {
	if frames == 0 {
		return
	}
	offset, first, second := rb.segments(t, frames)

	for ch, dst := range rb.buffers {
		if ch >= len(channelData) {
			clear(dst[offset : offset+first])
			clear(dst[:second])
			continue
		}
		src := channelData[ch]
		copy(dst[offset:offset+first], src[:first])
		if second > 0 {
			copy(dst[:second], src[first:first+second])
		}
	}
}

func (rb *RingBuffer) fetchFrames(channelData [][]byte, destFrame int, t SampleTime, frames int) {
	offset, first, second := rb.segments(t, frames)
	destOffset := destFrame * rb.bytesPerFrame

	n := min(len(channelData), rb.channels)
	for ch := 0; ch < n; ch++ {
		src, dst := rb.buffers[ch], channelData[ch]
		copy(dst[destOffset:destOffset+first], src[offset:offset+first])
		if second > 0 {
			copy(dst[destOffset+first:destOffset+first+second], src[:second])
		}
	}
}

func (rb *RingBuffer) zeroStorage(t SampleTime, frames int) {
	frames = min(frames, rb.capacityFrames)
	if frames <= 0 {
		return
	}
	offset, first, second := rb.segments(t, frames)
	for _, buf := range rb.buffers {
		clear(buf[offset : offset+first])
		clear(buf[:second])
	}
}

func (rb *RingBuffer) zeroDest(channelData [][]byte, destFrame, frames int) {
	from := destFrame * rb.bytesPerFrame
	to := from + frames*rb.bytesPerFrame
	n := min(len(channelData), rb.channels)
	for ch := 0; ch < n; ch++ {
		clear(channelData[ch][from:to])
	}
}
