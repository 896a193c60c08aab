package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/scrollsync/internal/follow"
	"github.com/MrWong99/scrollsync/internal/observe"
	"github.com/MrWong99/scrollsync/pkg/audio"
	"github.com/MrWong99/scrollsync/pkg/provider/stt"
)

// sessionSet tracks the open recognizer sessions. All methods are safe for
// concurrent use.
type sessionSet struct {
	mu     sync.Mutex
	live   []namedSession
	closed bool
}

type namedSession struct {
	name   string
	handle stt.SessionHandle
}

// start opens one session per recognizer and returns them as follower
// sources. A recognizer that fails to start is logged and counted; the
// others still start.
func (s *sessionSet) start(ctx context.Context, rs []Recognizer, base stt.StreamConfig, m *observe.Metrics) []follow.Source {
	var sources []follow.Source
	for _, r := range rs {
		cfg := base
		cfg.Language = r.Language
		h, err := r.Provider.StartStream(ctx, cfg)
		if err != nil {
			slog.Error("recognizer failed to start", "recognizer", r.Name, "err", err)
			m.RecordRecognizerError(ctx, r.Name, "start")
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = h.Close()
			return sources
		}
		s.live = append(s.live, namedSession{name: r.Name, handle: h})
		s.mu.Unlock()

		slog.Info("recognizer started", "recognizer", r.Name, "language", cfg.Language, "vocabulary", len(cfg.Vocabulary))
		sources = append(sources, follow.FromSession(r.Name, h))
	}
	return sources
}

// sinks returns the live sessions as audio sinks.
func (s *sessionSet) sinks() []audio.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Sink, len(s.live))
	for i, ns := range s.live {
		out[i] = ns.handle
	}
	return out
}

func (s *sessionSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// closeAll closes every session once. Later calls, and sessions started
// after it, are closed immediately.
func (s *sessionSet) closeAll() {
	s.mu.Lock()
	live := s.live
	s.live = nil
	s.closed = true
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, ns := range live {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ns.handle.Close(); err != nil {
				slog.Warn("recognizer close error", "recognizer", ns.name, "err", err)
			}
		}()
	}
	wg.Wait()
}
