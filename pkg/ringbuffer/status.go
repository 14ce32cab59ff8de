// ABOUTME: Result codes returned by ring buffer operations
// ABOUTME: Signed codes so behind/ahead severity can be compared by magnitude
package ringbuffer

import "fmt"

// SampleTime is a frame index in the producer's monotonic sample-time domain.
// Only differences and comparisons are meaningful.
type SampleTime int64

// Status is the outcome of a Store, Fetch or GetTimeBounds call.
// Negative values mean the reader trails the valid window, positive values
// mean it leads it (or the request could not be served).
type Status int

const (
	WayBehind      Status = -2
	SlightlyBehind Status = -1
	OK             Status = 0
	SlightlyAhead  Status = 1
	WayAhead       Status = 2
	TooMuch        Status = 3
	CPUOverload    Status = 4
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case WayBehind:
		return "WayBehind"
	case SlightlyBehind:
		return "SlightlyBehind"
	case OK:
		return "OK"
	case SlightlyAhead:
		return "SlightlyAhead"
	case WayAhead:
		return "WayAhead"
	case TooMuch:
		return "TooMuch"
	case CPUOverload:
		return "CPUOverload"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Behind reports whether the read cursor trailed the valid window
func (s Status) Behind() bool {
	return s == WayBehind || s == SlightlyBehind
}

// Ahead reports whether the read cursor led the valid window.
// TooMuch counts as ahead: the request ran past the end of the window.
func (s Status) Ahead() bool {
	return s == SlightlyAhead || s == WayAhead || s == TooMuch
}

// Worse returns whichever status deviates more. Ties return b.
func Worse(a, b Status) Status {
	aa, bb := a, b
	if aa < 0 {
		aa = -aa
	}
	if bb < 0 {
		bb = -bb
	}
	if aa > bb {
		return a
	}
	return b
}

// Statuses lists every status value, in code order
var Statuses = []Status{WayBehind, SlightlyBehind, OK, SlightlyAhead, WayAhead, TooMuch, CPUOverload}
