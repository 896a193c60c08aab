// Package mock provides test doubles for the stt package interfaces.
//
// Session lets a test push scripted transcripts into the follower:
//
//	sess := mock.NewSession(4)
//	sess.EmitFinal("o tempo cobre o chão")
//	sess.Close()
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/scrollsync/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. When nil, StartStream returns a new
	// Session with buffered channels.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Calls returns a copy of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock stt.SessionHandle. Transcripts are injected with
// EmitPartial and EmitFinal; Close closes both channels.
type Session struct {
	mu     sync.Mutex
	closed bool

	partials chan stt.Transcript
	finals   chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	chunks     [][]byte
	closeCalls int
}

// NewSession returns a Session whose channels buffer up to size transcripts.
func NewSession(size int) *Session {
	return &Session{
		partials: make(chan stt.Transcript, size),
		finals:   make(chan stt.Transcript, size),
	}
}

var errClosed = errors.New("mock: session is closed")

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Partials returns the partials channel.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the finals channel.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// EmitPartial queues an interim transcript. It blocks when the buffer is full
// and panics after Close.
func (s *Session) EmitPartial(text string) {
	s.partials <- stt.Transcript{Text: text}
}

// EmitFinal queues a committed transcript. It blocks when the buffer is full
// and panics after Close.
func (s *Session) EmitFinal(text string) {
	s.finals <- stt.Transcript{Text: text, IsFinal: true}
}

// Close closes both channels. Subsequent calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
	return nil
}

// Chunks returns copies of every chunk passed to SendAudio.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

var _ stt.SessionHandle = (*Session)(nil)
