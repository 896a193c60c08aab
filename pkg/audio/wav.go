package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrNotWAV is returned when a stream does not start with a RIFF/WAVE
	// header.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

	// ErrUnsupportedWAV is returned for WAV files that are not 16-bit PCM.
	ErrUnsupportedWAV = errors.New("audio: only 16-bit PCM WAV is supported")
)

// EncodeWAV wraps pcm in a 44-byte RIFF/WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	dataSize := len(pcm)
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.SampleRate*f.FrameSize()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.FrameSize()))
	binary.LittleEndian.PutUint16(buf[34:36], 8*bytesPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// ReadWAV parses the RIFF header of r and returns the stream format and a
// reader positioned at the start of the sample data, limited to the data
// chunk. Chunks other than "fmt " and "data" are skipped.
func ReadWAV(r io.Reader) (Format, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, nil, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var f Format
	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, nil, fmt.Errorf("audio: read wav chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", size)
			}
			var body [16]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return Format{}, nil, fmt.Errorf("audio: read wav fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 || bits != 16 {
				return Format{}, nil, fmt.Errorf("%w (format %d, %d bits)", ErrUnsupportedWAV, audioFormat, bits)
			}
			f = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			if err := skip(r, size-16+size%2); err != nil {
				return Format{}, nil, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, errors.New("audio: wav data chunk before fmt chunk")
			}
			if !f.Valid() {
				return Format{}, nil, fmt.Errorf("audio: invalid wav format %s", f)
			}
			return f, io.LimitReader(r, size), nil
		default:
			if err := skip(r, size+size%2); err != nil {
				return Format{}, nil, err
			}
		}
	}
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("audio: skip wav chunk: %w", err)
	}
	return nil
}

// RMS returns the root-mean-square energy of a PCM buffer in sample units
// (0–32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
