// ABOUTME: Time-indexed ring buffer package
// ABOUTME: Hands audio frames from a real-time producer to a real-time consumer
// Package ringbuffer provides a lock-free, fixed-capacity circular buffer whose
// frames are addressed by sample time instead of by position.
//
// One producer stores frames at the sample time its device reported; one or
// more consumers fetch frames for the sample time they want to play. The
// buffer keeps a valid window [start, end) of times it can serve, publishes it
// through a small seqlock-protected history, and reports how a read missed
// that window with a Status instead of an error.
//
// Example:
//
//	rb, err := ringbuffer.New(2, 4, 4096)
//	if err != nil {
//	    return err
//	}
//
//	// Producer thread
//	rb.Store(inputChannels, 512, inputSampleTime)
//
//	// Consumer thread
//	status := rb.Fetch(outputChannels, 512, readTime)
//	if status != ringbuffer.OK {
//	    // outputChannels holds silence where the window was missed
//	}
package ringbuffer
