// ABOUTME: Allocation-free helpers for moving samples between buffer layouts
// ABOUTME: Interleaved device bytes, per-channel bytes and per-channel float32
package audio

import (
	"encoding/binary"
	"math"
)

// NewChannelBuffers allocates one zeroed byte slice per channel, backed by a
// single allocation
func NewChannelBuffers(channels, frames, bytesPerSample int) [][]byte {
	size := frames * bytesPerSample
	mem := make([]byte, channels*size)
	bufs := make([][]byte, channels)
	for ch := range bufs {
		bufs[ch] = mem[ch*size : (ch+1)*size : (ch+1)*size]
	}
	return bufs
}

// NewFloatBuffers allocates one zeroed float32 slice per channel
func NewFloatBuffers(channels, frames int) [][]float32 {
	mem := make([]float32, channels*frames)
	bufs := make([][]float32, channels)
	for ch := range bufs {
		bufs[ch] = mem[ch*frames : (ch+1)*frames : (ch+1)*frames]
	}
	return bufs
}

// DeinterleaveInto splits frames of interleaved src (srcChannels wide) into
// dst, one slice per channel. Channels of src beyond len(dst) are dropped;
// dst channels beyond srcChannels are zeroed.
func DeinterleaveInto(dst [][]byte, src []byte, srcChannels, frames, bytesPerSample int) {
	stride := srcChannels * bytesPerSample
	for ch, out := range dst {
		if ch >= srcChannels {
			clear(out[:frames*bytesPerSample])
			continue
		}
		in := ch * bytesPerSample
		for f := 0; f < frames; f++ {
			copy(out[f*bytesPerSample:(f+1)*bytesPerSample], src[in:in+bytesPerSample])
			in += stride
		}
	}
}

// BytesToFloat32Into decodes little-endian float32 samples from src
func BytesToFloat32Into(dst []float32, src []byte) {
	n := min(len(dst), len(src)/4)
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

// Float32ToBytesInto encodes float32 samples into src as little-endian bytes
func Float32ToBytesInto(dst []byte, src []float32) {
	n := min(len(src), len(dst)/4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(src[i]))
	}
}

// InterleaveFloat32Into writes frames of per-channel src into interleaved
// little-endian float32 dst, dstChannels wide. Missing channels are silent.
func InterleaveFloat32Into(dst []byte, src [][]float32, dstChannels, frames int) {
	i := 0
	for f := 0; f < frames; f++ {
		for ch := 0; ch < dstChannels; ch++ {
			var v float32
			if ch < len(src) {
				v = src[ch][f]
			}
			binary.LittleEndian.PutUint32(dst[i:], math.Float32bits(v))
			i += 4
		}
	}
}

// Int24ToFloat32Into converts 24-bit range samples to float32
func Int24ToFloat32Into(dst []float32, src []int32) {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = Int24ToFloat32(src[i])
	}
}
