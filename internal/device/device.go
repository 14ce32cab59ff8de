// ABOUTME: Audio device abstraction for the play-through engine
// ABOUTME: Timestamped periodic callbacks plus a device-change event stream
package device

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/liscio/playthrough-go/pkg/audio"
	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	streamsync "github.com/liscio/playthrough-go/pkg/sync"
)

var (
	// ErrUnknownBackend is returned by Open for unsupported backend names
	ErrUnknownBackend = errors.New("unknown audio backend")
	// ErrNotRunning is returned by CurrentTime while a device is stopped
	ErrNotRunning = errors.New("device not running")
)

// Direction is the data direction of a device
type Direction int

const (
	Capture Direction = iota
	Playback
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// Timestamp is a device's position and clock speed at a callback
type Timestamp struct {
	SampleTime ringbuffer.SampleTime
	RateScalar float64
}

// Callback is invoked once per device period on the device's real-time
// thread. Capture devices pass interleaved float32 input in in; playback
// devices expect frames of interleaved float32 written to out.
type Callback func(in, out []byte, frames int, ts Timestamp)

// EventKind classifies device events
type EventKind int

const (
	// EventDeviceChanged: the device went away or changed underneath us
	EventDeviceChanged EventKind = iota
	// EventStopped: the device stopped on request
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventDeviceChanged:
		return "device-changed"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered on a device's Events channel
type Event struct {
	Kind   EventKind
	Device string
}

// Device is one side of the play-through. Samples are always interleaved
// little-endian float32.
type Device interface {
	Name() string
	Direction() Direction
	Format() audio.Format
	PeriodFrames() int
	Latency() streamsync.Latency
	// CurrentTime reports the device position; ErrNotRunning when stopped
	CurrentTime() (Timestamp, error)
	SetCallback(cb Callback)
	Start() error
	Stop() error
	Close() error
	Events() <-chan Event
}

const eventBuffer = 8

// eventQueue delivers events without ever blocking the sender
type eventQueue struct {
	name    string
	ch      chan Event
	dropped atomic.Uint64
}

func newEventQueue(name string) *eventQueue {
	return &eventQueue{name: name, ch: make(chan Event, eventBuffer)}
}

func (q *eventQueue) send(kind EventKind) {
	select {
	case q.ch <- Event{Kind: kind, Device: q.name}:
	default:
		q.dropped.Add(1)
	}
}

// clock counts frames delivered by a device and estimates its rate for
// backends that do not report one
type clock struct {
	start     time.Time
	frames    atomic.Int64
	running   atomic.Bool
	estimator *streamsync.RateEstimator
}

func newClock(sampleRate int, est *streamsync.RateEstimator) *clock {
	if est == nil {
		est = streamsync.NewRateEstimator(float64(sampleRate), nil)
	}
	return &clock{estimator: est}
}

func (c *clock) reset() {
	c.start = time.Now()
	c.frames.Store(0)
	c.estimator.Reset()
}

// tick is called at the top of each callback
func (c *clock) tick(frames int) Timestamp {
	t := ringbuffer.SampleTime(c.frames.Load())
	c.estimator.Observe(t, time.Since(c.start))
	c.frames.Add(int64(frames))
	return Timestamp{SampleTime: t, RateScalar: c.estimator.RateScalar()}
}

func (c *clock) now() (Timestamp, error) {
	if !c.running.Load() {
		return Timestamp{}, ErrNotRunning
	}
	return Timestamp{
		SampleTime: ringbuffer.SampleTime(c.frames.Load()),
		RateScalar: c.estimator.RateScalar(),
	}, nil
}

// callbackSlot lets the callback be swapped without locking the device thread
type callbackSlot struct {
	p atomic.Pointer[Callback]
}

func (s *callbackSlot) set(cb Callback) {
	if cb == nil {
		s.p.Store(nil)
		return
	}
	s.p.Store(&cb)
}

func (s *callbackSlot) get() Callback {
	if p := s.p.Load(); p != nil {
		return *p
	}
	return nil
}
