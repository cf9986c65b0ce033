// Package audio holds PCM16 helpers shared by the capture, segmentation and
// transcription stages. All audio is little-endian signed 16-bit mono.
package audio

import (
	"encoding/binary"
	"time"
)

const BytesPerSample = 2

// FrameBytes is the byte length of one block of blockMS milliseconds.
func FrameBytes(sampleRate, blockMS int) int {
	return sampleRate * blockMS / 1000 * BytesPerSample
}

// BytesFor returns the byte length of seconds of audio, truncated to a whole sample.
func BytesFor(sampleRate int, seconds float64) int {
	samples := int(float64(sampleRate) * seconds)
	return samples * BytesPerSample
}

// Duration returns the playback length of a PCM16 payload.
func Duration(sampleRate, n int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Frames calls fn for every complete frame in buf. A partial trailing frame is dropped.
func Frames(buf []byte, frameBytes int, fn func(frame []byte, index int)) int {
	if frameBytes <= 0 {
		return 0
	}
	n := 0
	for off := 0; off+frameBytes <= len(buf); off += frameBytes {
		fn(buf[off:off+frameBytes], n)
		n++
	}
	return n
}

// ToFloat32 normalises PCM16 into [-1, 1) by dividing by 32768.
func ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// FromFloat32 converts normalised samples back to PCM16, clamping out-of-range values.
func FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := float64(s) * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Int16ToBytes packs samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Samples unpacks little-endian PCM16.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
