// Package app wires all scrollsync subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the document and builds
// the follower and display server, Run starts the recognizer sessions and
// feeds them audio, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRecognizers,
// WithAudio, WithListener, etc.). When an option is not provided, New falls
// back to the config or a package default.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scrollsync/internal/align"
	"github.com/MrWong99/scrollsync/internal/config"
	"github.com/MrWong99/scrollsync/internal/display"
	"github.com/MrWong99/scrollsync/internal/document"
	"github.com/MrWong99/scrollsync/internal/follow"
	"github.com/MrWong99/scrollsync/internal/health"
	"github.com/MrWong99/scrollsync/internal/observe"
	"github.com/MrWong99/scrollsync/pkg/audio"
	"github.com/MrWong99/scrollsync/pkg/provider/stt"
)

// Recognizer is a named speech recognizer. The name labels its fragments.
type Recognizer struct {
	Name     string
	Provider stt.Provider

	// Language overrides the provider's default recognition language.
	Language string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg         *config.Config
	recognizers []Recognizer
	metrics     *observe.Metrics
	registry    *prometheus.Registry
	level       *slog.LevelVar
	audioIn     io.Reader
	listener    net.Listener

	follower *follow.Follower
	hub      *display.Hub
	server   *display.Server
	health   *health.Handler
	sessions *sessionSet

	mu         sync.Mutex
	docWatcher *document.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecognizers sets the recognizers started by Run.
func WithRecognizers(rs ...Recognizer) Option {
	return func(a *App) { a.recognizers = append(a.recognizers, rs...) }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry serves /metrics from reg instead of the global registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithLevelVar lets config reloads change the log level. Without it log
// level changes are ignored.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithAudio sets the reader used for the "-" audio path, raw 16-bit PCM in
// the configured sample rate and channel count. Default: os.Stdin.
func WithAudio(r io.Reader) Option {
	return func(a *App) { a.audioIn = r }
}

// WithListener serves the display on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithCloser registers fn to run during Shutdown, after the sessions and the
// document watcher have stopped. Closers run in registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It loads the reference document, prepares
// the aligner and follower and builds the display server. Nothing listens
// or connects until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, audioIn: os.Stdin, sessions: &sessionSet{}}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Document ──────────────────────────────────────────────────────
	doc, err := document.Load(cfg.Document.Path)
	if err != nil {
		return nil, fmt.Errorf("app: load document: %w", err)
	}

	// ── 2. Aligner and follower ──────────────────────────────────────────
	aligner := align.New(
		align.WithWindowSize(cfg.Matcher.WindowSize),
		align.WithWorkers(cfg.Matcher.Workers),
	)
	a.follower, err = follow.New(doc,
		follow.WithAligner(aligner),
		follow.WithThreshold(cfg.Matcher.MatchThreshold()),
		follow.WithPartials(cfg.Matcher.Partials),
		follow.WithCacheSize(max(cfg.Matcher.CacheSize, 0)),
		follow.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init follower: %w", err)
	}

	// ── 3. Display ───────────────────────────────────────────────────────
	a.hub = display.NewHub(a.follower, a.metrics)
	a.health = health.New(
		health.Checker{Name: "document", Check: a.checkDocument},
		health.Checker{Name: "recognizers", Check: a.checkRecognizers},
	)
	a.server = display.NewServer(a.hub, a.metrics,
		display.WithRegistry(a.registry),
		display.WithHealth(a.health),
		display.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)

	// ── 4. Document watcher ──────────────────────────────────────────────
	if cfg.Document.Watch {
		if err := a.watchDocument(cfg.Document.Path, doc); err != nil {
			return nil, fmt.Errorf("app: watch document: %w", err)
		}
	}

	slog.Info("app initialised",
		"document", doc.String(),
		"recognizers", len(a.recognizers),
		"threshold", cfg.Matcher.MatchThreshold(),
	)
	return a, nil
}

// watchDocument starts a watcher on path. loaded is the version the
// follower already has; if the file changed in between, the watcher's
// version is applied at once.
func (a *App) watchDocument(path string, loaded *document.Document) error {
	w, err := document.NewWatcher(path, a.documentChanged)
	if err != nil {
		return err
	}
	a.mu.Lock()
	prev := a.docWatcher
	a.docWatcher = w
	a.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	if cur := w.Current(); cur.Hash != loaded.Hash {
		a.documentChanged(loaded, cur)
	}
	return nil
}

func (a *App) documentChanged(_, doc *document.Document) {
	a.follower.SetDocument(doc)
	a.hub.DocumentChanged(doc)
	a.metrics.DocumentReloads.Add(context.Background(), 1)
	if a.sessions.count() > 0 {
		slog.Info("recognizer vocabulary still reflects the previous document until restart")
	}
}

// Follower returns the follower fragments are aligned by.
func (a *App) Follower() *follow.Follower { return a.follower }

// Hub returns the display hub.
func (a *App) Hub() *display.Hub { return a.hub }

// Handler returns the display server's HTTP handler.
func (a *App) Handler() http.Handler { return a.server }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the recognizer sessions, the display server and the follower,
// and feeds the configured audio to every session. It blocks until ctx is
// cancelled or the display server fails. Run returns nil on cancellation.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sources := a.sessions.start(ctx, a.recognizers, a.streamConfig(), a.metrics)
	if len(a.recognizers) > 0 && len(sources) == 0 {
		slog.Warn("no recognizer session could be started; the display will not scroll")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if a.listener != nil {
			return a.server.Serve(gctx, a.listener)
		}
		return a.server.ListenAndServe(gctx, a.cfg.Server.ListenAddr)
	})
	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return a.follower.Run(gctx, sources...) })
	if a.cfg.Audio.Path != "" && len(sources) > 0 {
		g.Go(func() error { return a.feedAudio(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) streamConfig() stt.StreamConfig {
	return stt.StreamConfig{
		SampleRate: audio.Speech.SampleRate,
		Channels:   audio.Speech.Channels,
		Vocabulary: a.follower.Document().Vocabulary(),
	}
}

// feedAudio streams the configured audio to every live session, then
// closes the sessions so their trailing results flush and the follower's
// sources are exhausted.
func (a *App) feedAudio(ctx context.Context) error {
	defer a.sessions.closeAll()

	r, from, closeFn, err := a.openAudio()
	if err != nil {
		return fmt.Errorf("app: open audio: %w", err)
	}
	defer closeFn()

	slog.Info("streaming audio", "path", a.cfg.Audio.Path, "format", from.String(), "realtime", a.cfg.Audio.Realtime)
	start := time.Now()
	err = audio.Stream(ctx, r, audio.StreamOptions{
		From:     from,
		To:       audio.Speech,
		Chunk:    time.Duration(a.cfg.Audio.ChunkMs) * time.Millisecond,
		Realtime: a.cfg.Audio.Realtime,
	}, a.sessions.sinks()...)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("audio finished", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *App) openAudio() (io.Reader, audio.Format, func(), error) {
	if a.cfg.Audio.Path == config.Stdin {
		f := audio.Format{SampleRate: a.cfg.Audio.SampleRate, Channels: a.cfg.Audio.Channels}
		return a.audioIn, f, func() {}, nil
	}
	file, err := os.Open(a.cfg.Audio.Path)
	if err != nil {
		return nil, audio.Format{}, nil, err
	}
	f, data, err := audio.ReadWAV(file)
	if err != nil {
		file.Close()
		return nil, audio.Format{}, nil, fmt.Errorf("%s: %w", a.cfg.Audio.Path, err)
	}
	return data, f, func() { file.Close() }, nil
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reconfigure applies the hot-reloadable parts of d. Changes that need a
// restart are logged.
func (a *App) Reconfigure(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		a.follower.SetThreshold(d.NewThreshold)
		slog.Info("match threshold changed", "threshold", d.NewThreshold)
	}
	if d.PartialsChanged {
		a.follower.SetPartials(d.NewPartials)
		slog.Info("partial alignment changed", "partials", d.NewPartials)
	}
	if d.DocumentChanged {
		if err := a.switchDocument(d.NewDocument); err != nil {
			slog.Warn("document change not applied", "path", d.NewDocument.Path, "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "keys", d.RestartRequired)
	}
}

func (a *App) switchDocument(dc config.DocumentConfig) error {
	doc, err := document.Load(dc.Path)
	if err != nil {
		return err
	}
	if !dc.Watch {
		a.mu.Lock()
		prev := a.docWatcher
		a.docWatcher = nil
		a.mu.Unlock()
		if prev != nil {
			prev.Stop()
		}
	}
	a.documentChanged(a.follower.Document(), doc)
	if dc.Watch {
		return a.watchDocument(dc.Path, doc)
	}
	return nil
}

// ─── Health ──────────────────────────────────────────────────────────────────

func (a *App) checkDocument(context.Context) error {
	if a.follower.Document().Len() == 0 {
		return document.ErrEmpty
	}
	return nil
}

func (a *App) checkRecognizers(context.Context) error {
	if len(a.recognizers) > 0 && a.sessions.count() == 0 {
		return errors.New("no recognizer session is running")
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the recognizer sessions, stops the document watcher and
// runs the registered closers. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.count())

		done := make(chan struct{})
		go func() {
			defer close(done)
			a.sessions.closeAll()
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while closing sessions")
			shutdownErr = ctx.Err()
			return
		}

		a.mu.Lock()
		w := a.docWatcher
		a.docWatcher = nil
		a.mu.Unlock()
		if w != nil {
			w.Stop()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
