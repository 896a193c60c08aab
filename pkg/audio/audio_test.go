package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scrollsync/pkg/audio"
)

// pcm16 packs samples as little-endian int16.
func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestFormat_BytesAndDuration(t *testing.T) {
	t.Parallel()

	if got := audio.Speech.BytesFor(20 * time.Millisecond); got != 640 {
		t.Errorf("Speech.BytesFor(20ms) = %d, want 640", got)
	}
	stereo := audio.Format{SampleRate: 48000, Channels: 2}
	if got := stereo.Duration(192000); got != time.Second {
		t.Errorf("Duration(192000) = %v, want 1s", got)
	}
	if got := stereo.String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q", got)
	}
	if (audio.Format{}).Valid() {
		t.Error("zero Format reported valid")
	}
}

func TestReadWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 22050, Channels: 2}
	pcm := pcm16(1, -1, 2, -2, 3, -3)
	wav := audio.EncodeWAV(pcm, f)

	// Splice a LIST chunk with odd size between fmt and data.
	var spliced bytes.Buffer
	spliced.Write(wav[:36])
	spliced.WriteString("LIST")
	_ = binary.Write(&spliced, binary.LittleEndian, uint32(3))
	spliced.Write([]byte{'a', 'b', 'c', 0})
	spliced.Write(wav[36:])

	got, data, err := audio.ReadWAV(&spliced)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if got != f {
		t.Errorf("format = %s, want %s", got, f)
	}
	body, err := io.ReadAll(data)
	if err != nil {
		t.Fatalf("read data: %v", err)
	}
	if !bytes.Equal(body, pcm) {
		t.Errorf("data = %v, want %v", body, pcm)
	}
}

func TestReadWAV_Rejects(t *testing.T) {
	t.Parallel()

	if _, _, err := audio.ReadWAV(bytes.NewReader([]byte("not a wav file at all"))); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("garbage: err = %v, want ErrNotWAV", err)
	}

	wav := audio.EncodeWAV(pcm16(0, 0), audio.Speech)
	binary.LittleEndian.PutUint16(wav[34:36], 8)
	if _, _, err := audio.ReadWAV(bytes.NewReader(wav)); !errors.Is(err, audio.ErrUnsupportedWAV) {
		t.Errorf("8-bit: err = %v, want ErrUnsupportedWAV", err)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f", got)
	}
	if got := audio.RMS(pcm16(300, -300, 300, -300)); got != 300 {
		t.Errorf("RMS = %f, want 300", got)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	got := audio.Downmix(pcm16(100, 300, -200, -400), 2)
	if want := pcm16(200, -300); !bytes.Equal(got, want) {
		t.Errorf("Downmix = %v, want %v", got, want)
	}
	mono := pcm16(7)
	if got := audio.Downmix(mono, 1); !bytes.Equal(got, mono) {
		t.Error("Downmix of mono must be the identity")
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	src := pcm16(0, 100, 200, 300, 400, 500)
	got := audio.Resample(src, 48000, 16000)
	if want := pcm16(0, 300); !bytes.Equal(got, want) {
		t.Errorf("Resample 3:1 = %v, want %v", got, want)
	}
	up := audio.Resample(pcm16(0, 100), 8000, 16000)
	if want := pcm16(0, 50, 100, 100); !bytes.Equal(up, want) {
		t.Errorf("Resample 1:2 = %v, want %v", up, want)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (s *recordingSink) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		n += len(c)
	}
	return n
}

func TestStream_FansOutAndDropsFailedSinks(t *testing.T) {
	t.Parallel()

	// 100 ms of 16 kHz mono is 3200 bytes, i.e. five 20 ms chunks.
	src := bytes.NewReader(make([]byte, 3200))
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("closed")}

	err := audio.Stream(context.Background(), src, audio.StreamOptions{From: audio.Speech}, good, bad)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(good.chunks) != 5 {
		t.Errorf("good sink got %d chunks, want 5", len(good.chunks))
	}
	if good.total() != 3200 {
		t.Errorf("good sink got %d bytes, want 3200", good.total())
	}
}

func TestStream_ConvertsToSpeechFormat(t *testing.T) {
	t.Parallel()

	from := audio.Format{SampleRate: 48000, Channels: 2}
	src := bytes.NewReader(make([]byte, from.BytesFor(100*time.Millisecond)))
	sink := &recordingSink{}

	if err := audio.Stream(context.Background(), src, audio.StreamOptions{From: from}, sink); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got, want := sink.total(), audio.Speech.BytesFor(100*time.Millisecond); got != want {
		t.Errorf("delivered %d bytes, want %d", got, want)
	}
}

func TestStream_AllSinksFail(t *testing.T) {
	t.Parallel()

	bad := &recordingSink{err: errors.New("closed")}
	err := audio.Stream(context.Background(), bytes.NewReader(make([]byte, 640)), audio.StreamOptions{From: audio.Speech}, bad)
	if err == nil {
		t.Fatal("Stream with only failing sinks returned nil")
	}
}

func TestStream_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := audio.Stream(ctx, bytes.NewReader(make([]byte, 640)), audio.StreamOptions{From: audio.Speech}, &recordingSink{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
