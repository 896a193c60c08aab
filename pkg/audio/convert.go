package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Converter turns PCM in format From into format To by down-mixing to mono
// and resampling with linear interpolation. Only mono targets are supported,
// which is all a recognizer needs. A Converter is not safe for concurrent use.
type Converter struct {
	From Format
	To   Format

	warnOnce sync.Once
}

// Convert returns pcm in the target format. When the formats already agree
// the input slice is returned unchanged.
func (c *Converter) Convert(pcm []byte) []byte {
	if c.From == c.To {
		return pcm
	}
	c.warnOnce.Do(func() {
		slog.Info("audio: converting input", "from", c.From.String(), "to", c.To.String())
	})
	mono := Downmix(pcm, c.From.Channels)
	return Resample(mono, c.From.SampleRate, c.To.SampleRate)
}

// Downmix averages every frame of interleaved channels into one mono sample.
// Trailing bytes that do not form a whole frame are dropped.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameSize := channels * bytesPerSample
	frames := len(pcm) / frameSize
	out := make([]byte, frames*bytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[i*frameSize+ch*bytesPerSample:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// Resample converts mono PCM from srcRate to dstRate by linear
// interpolation. Invalid or equal rates return the input unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < bytesPerSample {
		return pcm
	}
	src := len(pcm) / bytesPerSample
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dst*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)

	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(idx)
		s1 := s0
		if idx+1 < src {
			s1 = sample(idx + 1)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s0*(1-frac)+s1*frac)))
	}
	return out
}
