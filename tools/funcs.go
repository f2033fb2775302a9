package tools

import (
	"encoding/binary"
	"time"
)

// Opus frames are 2.5 to 120ms long.
const maxOpusFrame = 120 * time.Millisecond

// FrameSamples is the number of interleaved samples in duration of audio.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// PCMBytes encodes samples as signed 16-bit little endian.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// RingBytes is the byte size of seconds of 16-bit PCM.
func RingBytes(seconds, rate, channels int) int {
	return seconds * rate * channels * 2
}
