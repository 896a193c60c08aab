// Package whisper provides an stt.Provider backed by a whisper.cpp server.
//
// whisper.cpp transcribes whole clips, not streams. A session therefore
// buffers incoming PCM, cuts it into utterances with an energy-based silence
// detector, and POSTs each utterance as a WAV file to the server's /inference
// endpoint. Every non-empty result is emitted once on Finals; a batch engine
// has no interim guesses, so Partials never carries a value.
//
// When the stream config carries a vocabulary, it is passed to the server as
// the decoding prompt, which nudges the model towards the reference text.
//
//	p, err := whisper.New("http://localhost:8081", whisper.WithLanguage("pt"))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scrollsync/pkg/audio"
	"github.com/MrWong99/scrollsync/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the energy (16-bit sample units) below which a
	// chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// maxPromptWords bounds the vocabulary prompt; whisper truncates long
	// prompts to a fraction of its context anyway.
	maxPromptWords = 64
)

var _ stt.Provider = (*Provider)(nil)

var errClosed = errors.New("whisper: session is closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty (the default)
// uses whichever model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the default PCM sample rate. Default: 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets how much trailing silence ends an utterance.
// Default: 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs forces a flush when an utterance grows past this
// length. Default: 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Breaker guards inference requests. Do runs fn unless the backend is
// considered down, in which case it returns an error without calling fn.
type Breaker interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// WithBreaker routes every inference request through b. A rejected request
// drops its utterance like any other inference failure.
func WithBreaker(b Breaker) Option {
	return func(p *Provider) { p.breaker = b }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
	breaker             Breaker
}

// New returns a Provider for the server at serverURL, which must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:           strings.TrimRight(serverURL, "/"),
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No connection is made until the first
// utterance is flushed, so the only failure is an already-cancelled ctx.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = p.sampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	s := &session{
		endpoint:   p.serverURL + "/inference",
		model:      p.model,
		language:   lang,
		prompt:     buildPrompt(cfg.Vocabulary),
		format:     format,
		httpClient: p.httpClient,
		breaker:    p.breaker,
		seg: segmenter{
			format:    format,
			threshold: defaultRMSThreshold,
			silence:   time.Duration(p.silenceThresholdMs) * time.Millisecond,
			maxLen:    time.Duration(p.maxBufferDurationMs) * time.Millisecond,
		},
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop(ctx)
	return s, nil
}

// buildPrompt joins up to maxPromptWords distinct vocabulary words.
func buildPrompt(vocab []string) string {
	seen := make(map[string]struct{}, len(vocab))
	words := make([]string, 0, min(len(vocab), maxPromptWords))
	for _, w := range vocab {
		if len(words) == maxPromptWords {
			break
		}
		if _, ok := seen[w]; ok || w == "" {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

// segmenter cuts a PCM stream into utterances. Leading silence is dropped;
// an utterance ends after enough trailing silence or when it reaches maxLen.
// A silence cut keeps only the first quiet chunk of the tail.
type segmenter struct {
	format    audio.Format
	threshold float64
	silence   time.Duration
	maxLen    time.Duration

	buf       []byte
	keep      int // bytes of buf kept on a silence cut
	hadSpeech bool
	quiet     time.Duration
	start     time.Duration
	elapsed   time.Duration
}

// utterance is a committed stretch of speech and its position in the stream.
type utterance struct {
	pcm   []byte
	start time.Duration
}

// push feeds one chunk and returns a completed utterance, if any.
func (g *segmenter) push(chunk []byte) (utterance, bool) {
	d := g.format.Duration(len(chunk))
	defer func() { g.elapsed += d }()

	if audio.RMS(chunk) < g.threshold {
		if !g.hadSpeech {
			return utterance{}, false
		}
		g.buf = append(g.buf, chunk...)
		if g.quiet == 0 {
			g.keep = len(g.buf)
		}
		g.quiet += d
		if g.quiet >= g.silence {
			g.buf = g.buf[:g.keep]
			return g.flush()
		}
		return utterance{}, false
	}

	if !g.hadSpeech {
		g.start = g.elapsed
	}
	g.hadSpeech = true
	g.quiet = 0
	g.buf = append(g.buf, chunk...)
	g.keep = len(g.buf)
	if g.maxLen > 0 && g.format.Duration(len(g.buf)) >= g.maxLen {
		return g.flush()
	}
	return utterance{}, false
}

// flush returns the buffered speech and resets the segmenter.
func (g *segmenter) flush() (utterance, bool) {
	u := utterance{pcm: g.buf, start: g.start}
	ok := g.hadSpeech && len(g.buf) > 0
	g.buf, g.keep, g.hadSpeech, g.quiet = nil, 0, false, 0
	return u, ok
}

// session implements stt.SessionHandle. Segmenter state is confined to the
// loop goroutine.
type session struct {
	endpoint   string
	model      string
	language   string
	prompt     string
	format     audio.Format
	httpClient *http.Client
	breaker    Breaker
	seg        segmenter

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM chunk.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

// Partials returns a channel that is closed when the session ends and never
// carries a value.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the committed transcripts.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close flushes buffered speech, waits for the final inference and closes
// both channels. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	// Queued audio is drained and the last flush runs on a fresh context:
	// ctx may already be cancelled.
	finish := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	drain:
		for {
			select {
			case chunk := <-s.audioCh:
				if u, ok := s.seg.push(chunk); ok {
					s.transcribe(fc, u)
				}
			default:
				break drain
			}
		}
		if u, ok := s.seg.flush(); ok {
			s.transcribe(fc, u)
		}
	}

	for {
		select {
		case <-ctx.Done():
			finish()
			return
		case <-s.done:
			finish()
			return
		case chunk := <-s.audioCh:
			if u, ok := s.seg.push(chunk); ok {
				s.transcribe(ctx, u)
			}
		}
	}
}

// transcribe runs inference and emits a final. Failures are logged and the
// utterance is dropped; a reading session outlives a single bad request.
func (s *session) transcribe(ctx context.Context, u utterance) {
	var text string
	err := s.guard(ctx, func(ctx context.Context) (err error) {
		text, err = s.infer(ctx, u.pcm)
		return err
	})
	if err != nil {
		slog.Warn("whisper: inference failed", "err", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t := stt.Transcript{
		Text:      text,
		IsFinal:   true,
		Timestamp: u.start,
		Duration:  s.format.Duration(len(u.pcm)),
	}
	select {
	case s.finals <- t:
	default:
		slog.Warn("whisper: finals buffer full, dropping transcript", "text", text)
	}
}

func (s *session) guard(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Do(ctx, fn)
}

// infer uploads pcm as multipart/form-data and returns the recognized text.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, s.format)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := [][2]string{
		{"response_format", "json"},
		{"language", s.language},
		{"model", s.model},
		{"prompt", s.prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
