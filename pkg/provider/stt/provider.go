// Package stt defines the Provider interface for the speech recognizers that
// feed scrollsync.
//
// A recognizer is an external collaborator: it turns the reader's voice into
// short text fragments and nothing else. Which engine is more accurate is not
// a question scrollsync answers; every session is an independent, unweighted
// source of fragments for the follower.
//
// Once opened, a SessionHandle accepts raw 16-bit PCM audio and emits two
// streams of Transcript values: low-latency partials and committed finals.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 suits every built-in
	// provider.
	SampleRate int

	// Channels is the number of interleaved audio channels. Most engines
	// require mono (1).
	Channels int

	// Language is the BCP-47 language tag of the reading (e.g. "pt", "en-US").
	// Empty lets the provider pick its default.
	Language string

	// Vocabulary lists words taken from the reference document. Providers
	// that support it use the list to bias recognition towards the text the
	// reader is expected to say. Providers without support ignore it.
	Vocabulary []string
}

// Transcript is one recognized fragment.
type Transcript struct {
	// Text is the recognized speech, unnormalized.
	Text string

	// IsFinal distinguishes committed results from interim guesses.
	IsFinal bool

	// Confidence is the provider-reported confidence (0.0–1.0). Zero when the
	// provider does not report one.
	Confidence float64

	// Timestamp is the start of the utterance relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// SessionHandle is an open recognition session.
//
// Callers must call Close when done. All methods must be safe for concurrent
// use.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM audio matching the StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio and releases resources. After Close
	// returns both channels are closed. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any recognition backend.
type Provider interface {
	// StartStream opens a session. The returned handle accepts audio
	// immediately and is owned by the caller.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
