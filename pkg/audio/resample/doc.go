// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts sample rates with a playback rate that can change per call
// Package resample provides sample rate conversion with an adjustable
// playback rate ("varispeed").
//
// The resampler pulls input through a callback, so a consumer can read
// exactly as many frames from a ring buffer as the current rate needs. Two
// frames of history are carried between calls so output stays continuous.
//
// Example:
//
//	v := resample.New(2, 512, 44100, 48000)
//	v.SetRate(1.0004)
//	v.Render(out, 512, func(dst [][]float32, frames int) {
//	    fillFromSource(dst, frames)
//	})
package resample
