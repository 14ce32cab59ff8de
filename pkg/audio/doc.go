// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, channel buffers and sample conversion functions
// Package audio provides the audio types shared by devices, sources and the
// play-through engine.
//
// This package defines:
//   - Format: sample rate, channel count and bit depth of a PCM stream
//   - Channel buffers: per-channel byte or float32 slices sharing one allocation
//
// It also provides allocation-free conversions between layouts:
//   - interleaved device bytes ↔ per-channel bytes
//   - little-endian float32 bytes ↔ float32
//   - 16-bit ↔ 24-bit ↔ float32 samples
//
// Example:
//
//	format := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 32}
//	bufs := audio.NewChannelBuffers(format.Channels, 512, format.BytesPerSample())
//	audio.DeinterleaveInto(bufs, deviceBytes, format.Channels, 512, 4)
package audio
