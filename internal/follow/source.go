package follow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/scrollsync/pkg/provider/stt"
)

// Source produces fragments for a [Follower].
type Source interface {
	// Name identifies the source in events, logs and metrics.
	Name() string

	// Feed calls offer for every fragment until the source is exhausted or
	// ctx is cancelled.
	Feed(ctx context.Context, offer func(Fragment)) error
}

// FromSession adapts a recognition session. Both partials and finals are
// forwarded; the follower decides whether to align partials. Feed returns
// once the session has closed both channels.
func FromSession(name string, h stt.SessionHandle) Source {
	return &sessionSource{name: name, handle: h}
}

type sessionSource struct {
	name   string
	handle stt.SessionHandle
}

func (s *sessionSource) Name() string { return s.name }

func (s *sessionSource) Feed(ctx context.Context, offer func(Fragment)) error {
	partials, finals := s.handle.Partials(), s.handle.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			offer(Fragment{Source: s.name, Text: t.Text, Final: false, At: time.Now()})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			offer(Fragment{Source: s.name, Text: t.Text, Final: true, At: time.Now()})
		}
	}
	return nil
}

// FromReader treats every non-blank line of r as a final fragment. It is
// how the follow command reads recognizer output piped from another process.
func FromReader(name string, r io.Reader) Source {
	return &readerSource{name: name, r: r}
}

type readerSource struct {
	name string
	r    io.Reader
}

func (s *readerSource) Name() string { return s.name }

func (s *readerSource) Feed(ctx context.Context, offer func(Fragment)) error {
	sc := bufio.NewScanner(s.r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		offer(Fragment{Source: s.name, Text: line, Final: true, At: time.Now()})
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("follow: read %s: %w", s.name, err)
	}
	return nil
}
