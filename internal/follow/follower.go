// Package follow turns recognized fragments into scroll positions.
//
// A [Follower] owns the current reference document and a single consumer
// goroutine. Any number of [Source]s (recognition sessions, stdin) offer
// fragments to a small inbox; the consumer aligns each one against the
// document and, when the score clears the threshold, publishes an [Event] to
// every subscriber. Sources are unweighted: whichever fragment arrives is
// aligned, and a later accepted match simply moves the position again.
//
// When the aligner falls behind, the oldest queued fragment is dropped in
// favour of the newest. A stale position is worth less than a fresh one.
package follow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scrollsync/internal/align"
	"github.com/MrWong99/scrollsync/internal/document"
	"github.com/MrWong99/scrollsync/internal/observe"
)

const (
	defaultInboxSize = 32
	defaultCacheSize = 256
	subscriberBuffer = 16
)

// Fragment is one recognized burst of text.
type Fragment struct {
	// Source names the producer, e.g. "whisper" or "stdin".
	Source string

	// Text is the raw recognized text.
	Text string

	// Final is false for interim results.
	Final bool

	// At is when the fragment was received.
	At time.Time
}

// Event is an accepted match.
type Event struct {
	Line   int       `json:"line"`
	Score  float64   `json:"score"`
	Source string    `json:"source"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Option configures a [Follower].
type Option func(*Follower)

// WithThreshold sets the score a match must exceed to be published.
// Default: [align.MatchThreshold].
func WithThreshold(t float64) Option {
	return func(f *Follower) { f.threshold.Store(t) }
}

// WithPartials makes the follower align interim results as well as finals.
// Default: false.
func WithPartials(on bool) Option {
	return func(f *Follower) { f.partials.Store(on) }
}

// WithAligner replaces the default aligner.
func WithAligner(a *align.Aligner) Option {
	return func(f *Follower) {
		if a != nil {
			f.aligner = a
		}
	}
}

// WithCacheSize sets how many distinct normalized fragments keep their match
// result. Zero disables the cache. Default: 256.
func WithCacheSize(n int) Option {
	return func(f *Follower) {
		if n >= 0 {
			f.cacheSize = n
		}
	}
}

// WithInboxSize sets how many fragments may wait for the consumer.
// Default: 32.
func WithInboxSize(n int) Option {
	return func(f *Follower) {
		if n > 0 {
			f.inboxSize = n
		}
	}
}

// WithBackpressure makes sources block while the inbox is full instead of
// dropping the oldest fragment. Suited to replaying a transcript, where every
// line should be aligned. Default: false.
func WithBackpressure(on bool) Option {
	return func(f *Follower) { f.backpressure = on }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Follower) {
		if m != nil {
			f.metrics = m
		}
	}
}

// snapshot is everything that changes together when the document is
// replaced. Cached matches are only valid for the index they came from.
type snapshot struct {
	doc   *document.Document
	index *align.Index
	cache *lru.Cache[string, align.Match]
}

// Follower aligns fragments against a document and publishes accepted
// matches. All methods are safe for concurrent use.
type Follower struct {
	aligner      *align.Aligner
	metrics      *observe.Metrics
	partials     atomic.Bool
	backpressure bool
	cacheSize    int
	inboxSize    int
	threshold    atomic.Value // float64

	state    atomic.Pointer[snapshot]
	inbox    chan Fragment
	position atomic.Pointer[Event]

	// mu guards subs and orders document swaps against publishes.
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// New returns a Follower for doc. doc must be non-nil.
func New(doc *document.Document, opts ...Option) (*Follower, error) {
	if doc == nil {
		return nil, errors.New("follow: document must not be nil")
	}
	f := &Follower{
		aligner:   align.New(),
		metrics:   observe.DefaultMetrics(),
		cacheSize: defaultCacheSize,
		inboxSize: defaultInboxSize,
		subs:      make(map[int]chan Event),
	}
	f.threshold.Store(align.MatchThreshold)
	for _, o := range opts {
		o(f)
	}
	f.inbox = make(chan Fragment, f.inboxSize)
	f.state.Store(f.newSnapshot(doc))
	return f, nil
}

func (f *Follower) newSnapshot(doc *document.Document) *snapshot {
	s := &snapshot{doc: doc, index: f.aligner.Prepare(doc.Lines)}
	if f.cacheSize > 0 {
		// lru.New only fails for a non-positive size.
		s.cache, _ = lru.New[string, align.Match](f.cacheSize)
	}
	return s
}

// Document returns the document fragments are currently aligned against.
func (f *Follower) Document() *document.Document {
	return f.state.Load().doc
}

// SetDocument replaces the document. The position resets to the first line
// and cached matches are discarded.
func (f *Follower) SetDocument(doc *document.Document) {
	if doc == nil {
		return
	}
	s := f.newSnapshot(doc)
	f.mu.Lock()
	f.state.Store(s)
	f.position.Store(nil)
	f.mu.Unlock()
	slog.Info("follow: document replaced", "document", doc.String())
}

// Threshold returns the current acceptance threshold.
func (f *Follower) Threshold() float64 {
	return f.threshold.Load().(float64)
}

// SetThreshold changes the acceptance threshold.
func (f *Follower) SetThreshold(t float64) {
	f.threshold.Store(t)
}

// SetPartials switches alignment of interim results on or off.
func (f *Follower) SetPartials(on bool) {
	f.partials.Store(on)
}

// Position returns the last published event. ok is false until the first
// accepted match after start or a document change.
func (f *Follower) Position() (ev Event, ok bool) {
	if p := f.position.Load(); p != nil {
		return *p, true
	}
	return Event{}, false
}

// Subscribe registers a listener for published events. Events that do not
// fit the listener's buffer are dropped. The returned cancel function
// unregisters the listener and closes the channel.
func (f *Follower) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// publish stores ev as the position and fans it out, unless the document
// has been replaced since s was loaded.
func (f *Follower) publish(s *snapshot, ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Load() != s {
		return false
	}
	f.position.Store(&ev)
	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("follow: subscriber is slow, dropping event", "subscriber", id, "line", ev.Line)
		}
	}
	return true
}

// Offer queues a fragment for the consumer without blocking. When the inbox
// is full the oldest queued fragment is discarded. It reports whether a
// fragment was dropped.
func (f *Follower) Offer(fr Fragment) (dropped bool) {
	if fr.At.IsZero() {
		fr.At = time.Now()
	}
	for {
		select {
		case f.inbox <- fr:
			return dropped
		default:
		}
		select {
		case old := <-f.inbox:
			dropped = true
			f.metrics.RecordDropped(context.Background(), old.Source)
		default:
		}
	}
}

// Process aligns one fragment synchronously. It publishes and returns the
// event when the match is accepted. A match against a document that was
// replaced while aligning is discarded.
func (f *Follower) Process(ctx context.Context, fr Fragment) (Event, bool) {
	f.metrics.RecordFragment(ctx, fr.Source, fr.Final)
	if !fr.Final && !f.partials.Load() {
		return Event{}, false
	}
	if fr.At.IsZero() {
		fr.At = time.Now()
	}

	ctx, span := observe.StartSpan(ctx, "follow.match",
		trace.WithAttributes(attribute.String("source", fr.Source)))
	defer span.End()

	start := time.Now()
	s := f.state.Load()
	m := f.match(ctx, s, align.Normalize(fr.Text))
	accepted := m.Score > f.Threshold()
	f.metrics.RecordMatch(ctx, time.Since(start), m.Score, accepted)
	span.SetAttributes(
		attribute.Int("line", m.Line),
		attribute.Float64("score", m.Score),
		attribute.Bool("accepted", accepted),
	)

	log := observe.Logger(ctx)
	if !accepted {
		log.Debug("follow: match below threshold", "source", fr.Source, "line", m.Line, "score", m.Score)
		return Event{}, false
	}
	ev := Event{Line: m.Line, Score: m.Score, Source: fr.Source, Text: fr.Text, At: fr.At}
	if !f.publish(s, ev) {
		log.Debug("follow: document replaced during match, discarding", "source", fr.Source, "line", m.Line)
		return Event{}, false
	}
	log.Debug("follow: scrolled", "source", fr.Source, "line", m.Line, "score", m.Score)
	return ev, true
}

func (f *Follower) match(ctx context.Context, s *snapshot, tokens []string) align.Match {
	if s.cache == nil || len(tokens) == 0 {
		return s.index.Match(tokens)
	}
	key := strings.Join(tokens, " ")
	if m, ok := s.cache.Get(key); ok {
		f.metrics.RecordCache(ctx, true)
		return m
	}
	f.metrics.RecordCache(ctx, false)
	m := s.index.Match(tokens)
	s.cache.Add(key, m)
	return m
}

// Run consumes the inbox and feeds it from sources until ctx is cancelled.
// When sources are given and all of them are exhausted, Run processes what
// is left in the inbox and returns. A failing source is logged and does not
// stop the others. Run returns nil on cancellation.
func (f *Follower) Run(ctx context.Context, sources ...Source) error {
	g, gctx := errgroup.WithContext(ctx)

	var exhausted chan struct{}
	if len(sources) > 0 {
		exhausted = make(chan struct{})
		var producers sync.WaitGroup
		for _, src := range sources {
			producers.Add(1)
			g.Go(func() error {
				defer producers.Done()
				if err := src.Feed(gctx, f.offerFunc(gctx)); err != nil && gctx.Err() == nil {
					slog.Warn("follow: source failed", "source", src.Name(), "err", err)
					f.metrics.RecordRecognizerError(gctx, src.Name(), "feed")
				}
				return nil
			})
		}
		go func() {
			producers.Wait()
			close(exhausted)
		}()
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case fr := <-f.inbox:
				f.Process(gctx, fr)
			case <-exhausted:
				f.drain(gctx)
				return nil
			}
		}
	})
	return g.Wait()
}

func (f *Follower) offerFunc(ctx context.Context) func(Fragment) {
	if !f.backpressure {
		return func(fr Fragment) { f.Offer(fr) }
	}
	return func(fr Fragment) {
		select {
		case f.inbox <- fr:
		case <-ctx.Done():
		}
	}
}

func (f *Follower) drain(ctx context.Context) {
	for {
		select {
		case fr := <-f.inbox:
			f.Process(ctx, fr)
		default:
			return
		}
	}
}
