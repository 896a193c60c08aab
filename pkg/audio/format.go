// Package audio reads 16-bit PCM audio, converts it to the format the
// recognizers expect and fans it out to every open recognition session.
//
// All PCM handled here is signed 16-bit little-endian with interleaved
// channels.
package audio

import (
	"fmt"
	"time"
)

// bytesPerSample is fixed for 16-bit PCM.
const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Speech is the format every built-in recognizer accepts: 16 kHz mono.
var Speech = Format{SampleRate: 16000, Channels: 1}

// Valid reports whether f has a positive rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// FrameSize is the number of bytes in one sample frame (all channels).
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// BytesFor returns the number of bytes holding d of audio, rounded down to a
// whole frame.
func (f Format) BytesFor(d time.Duration) int {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * f.FrameSize()
}

// Duration returns the playback length of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	frames := n / f.FrameSize()
	return time.Duration(int64(frames) * int64(time.Second) / int64(f.SampleRate))
}

// String renders the format as e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
