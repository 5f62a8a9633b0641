// Package audio provides Echo's PCM primitives: RMS energy measurement, WAV
// container encoding, alert tone synthesis, energy-based utterance capture,
// and the priority-preemptive playback scheduler.
//
// All PCM in this package is 16-bit signed little-endian mono unless stated
// otherwise.
package audio

import (
	"encoding/binary"
	"math"
)

// bitsPerSample is fixed at 16 for all PCM handled by this package.
const bitsPerSample = 16

// RMS returns the normalized root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, in [0, 1]. Returns 0 for buffers shorter than one
// sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Duration returns the playback duration of a PCM chunk in milliseconds given
// the sample rate. Returns 0 for invalid inputs.
func Duration(pcm []byte, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * bitsPerSample / 8
	return len(pcm) * 1000 / bytesPerSec
}

// EncodeWAV wraps raw 16-bit signed little-endian mono PCM in a standard
// RIFF/WAV container suitable for upload to a transcription API.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM sub-chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// StripWAVHeader removes a leading RIFF header if one is present, returning
// the raw PCM payload. Buffers without a RIFF prefix are returned unchanged.
// Some synthesis APIs return WAV even when raw PCM is requested.
func StripWAVHeader(data []byte) []byte {
	if len(data) > 44 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return data[44:]
	}
	return data
}
