package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Sink receives PCM chunks. stt.SessionHandle satisfies it.
type Sink interface {
	SendAudio(chunk []byte) error
}

// StreamOptions controls [Stream].
type StreamOptions struct {
	// From is the format of the source PCM.
	From Format

	// To is the format delivered to sinks. Zero means [Speech].
	To Format

	// Chunk is the audio duration carried by each chunk. Zero means 20 ms.
	Chunk time.Duration

	// Realtime paces delivery at playback speed, as a microphone would.
	// When false chunks are delivered as fast as the sinks accept them.
	Realtime bool
}

const defaultChunk = 20 * time.Millisecond

// Stream reads PCM from r in fixed-duration chunks, converts each chunk and
// sends it to every sink. A sink that returns an error is logged and dropped;
// the remaining sinks keep receiving audio.
//
// Stream returns nil when r is exhausted, ctx.Err() when ctx is cancelled, and
// an error if every sink has failed.
func Stream(ctx context.Context, r io.Reader, opts StreamOptions, sinks ...Sink) error {
	if !opts.From.Valid() {
		return fmt.Errorf("audio: invalid source format %s", opts.From)
	}
	if !opts.To.Valid() {
		opts.To = Speech
	}
	if opts.Chunk <= 0 {
		opts.Chunk = defaultChunk
	}
	if len(sinks) == 0 {
		return errors.New("audio: no sinks")
	}

	size := opts.From.BytesFor(opts.Chunk)
	if size == 0 {
		size = opts.From.FrameSize()
	}
	conv := &Converter{From: opts.From, To: opts.To}
	live := append([]Sink(nil), sinks...)

	var tick <-chan time.Time
	if opts.Realtime {
		t := time.NewTicker(opts.Chunk)
		defer t.Stop()
		tick = t.C
	}

	buf := make([]byte, size)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			n -= n % opts.From.FrameSize()
			chunk := conv.Convert(append([]byte(nil), buf[:n]...))
			live = deliver(chunk, live)
			if len(live) == 0 {
				return errors.New("audio: every sink failed")
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("audio: read source: %w", err)
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
	}
}

func deliver(chunk []byte, sinks []Sink) []Sink {
	kept := sinks[:0]
	for _, s := range sinks {
		if err := s.SendAudio(chunk); err != nil {
			slog.Warn("audio: dropping sink after send failure", "err", err)
			continue
		}
		kept = append(kept, s)
	}
	return kept
}
