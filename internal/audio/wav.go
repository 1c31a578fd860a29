// Package audio holds the small amount of WAV handling shared by the
// transcription and synthesis clients.
package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

const (
	// InputSampleRate is the rate of raw PCM captured from clients.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of synthesized speech.
	OutputSampleRate = 24000
)

// PCMToWAV prepends a 44-byte RIFF header to little-endian PCM samples.
func PCMToWAV(pcm []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44, 44+dataLen)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcm...)
}

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

// EnsureWAV returns b unchanged if it is already a WAV container, otherwise
// wraps it as 16-bit mono PCM at InputSampleRate.
func EnsureWAV(b []byte) []byte {
	if IsWAV(b) {
		return b
	}
	return PCMToWAV(b, InputSampleRate, 16, 1)
}

// Silence returns a WAV of d of 16-bit mono silence at OutputSampleRate.
func Silence(d time.Duration) []byte {
	samples := int(int64(OutputSampleRate) * int64(d) / int64(time.Second))
	return PCMToWAV(make([]byte, samples*2), OutputSampleRate, 16, 1)
}
