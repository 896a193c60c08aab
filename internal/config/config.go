// Package config provides the configuration schema, loader, watcher and
// recognizer registry for the scrollsync server.
package config

import "log/slog"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown and empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Document    DocumentConfig     `yaml:"document"`
	Matcher     MatcherConfig      `yaml:"matcher"`
	Recognizers []RecognizerConfig `yaml:"recognizers"`
	Audio       AudioConfig        `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the display server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log lines.
	LogFormat LogFormat `yaml:"log_format"`

	// AllowedOrigins lists host patterns allowed to open the display
	// WebSocket from another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// OTLPEndpoint is the host:port of an OTLP/HTTP trace collector. Empty
	// keeps spans in-process.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DocumentConfig points at the reference text.
type DocumentConfig struct {
	// Path is a plain text file (one line per display line) or a .yaml/.yml
	// document. Relative paths are resolved against the config file's
	// directory by [Load].
	Path string `yaml:"path"`

	// Watch reloads the document when the file changes.
	Watch bool `yaml:"watch"`
}

// MatcherConfig tunes alignment.
type MatcherConfig struct {
	// WindowSize is the number of document tokens compared per offset.
	WindowSize int `yaml:"window_size"`

	// Threshold is the score a match must exceed to scroll. Hot-reloadable.
	// Unset means [DefaultThreshold]; an explicit 0 accepts any match with a
	// positive score.
	Threshold *float64 `yaml:"threshold"`

	// Workers splits the window scan across goroutines. Zero scans on the
	// calling goroutine.
	Workers int `yaml:"workers"`

	// CacheSize bounds the per-document match cache. Negative disables it.
	CacheSize int `yaml:"cache_size"`

	// Partials aligns interim recognizer results as well as finals.
	// Hot-reloadable.
	Partials bool `yaml:"partials"`
}

// RecognizerConfig configures one speech recognizer session.
type RecognizerConfig struct {
	// Name labels the recognizer in events, logs and metrics. Must be unique.
	Name string `yaml:"name"`

	// Provider selects the registered implementation (e.g., "whisper",
	// "deepgram"). Defaults to Name.
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Language is the BCP-47 recognition language (e.g., "pt").
	Language string `yaml:"language"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ProviderName returns Provider, or Name when Provider is empty.
func (r RecognizerConfig) ProviderName() string {
	if r.Provider != "" {
		return r.Provider
	}
	return r.Name
}

// OptString returns the string option key, or "" if absent or not a string.
func (r RecognizerConfig) OptString(key string) string {
	s, _ := r.Options[key].(string)
	return s
}

// OptInt returns the integer option key. ok is false if absent or not a
// whole number.
func (r RecognizerConfig) OptInt(key string) (n int, ok bool) {
	switch v := r.Options[key].(type) {
	case int:
		return v, true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// OptFloat returns the numeric option key. ok is false if absent or not a
// number.
func (r RecognizerConfig) OptFloat(key string) (f float64, ok bool) {
	switch v := r.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// AudioConfig selects the audio fed to the recognizers.
type AudioConfig struct {
	// Path is a WAV file, or "-" for raw 16-bit PCM on stdin. Empty runs the
	// server without an audio source.
	Path string `yaml:"path"`

	// SampleRate and Channels describe raw PCM on stdin. WAV files carry
	// their own format.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// ChunkMs is the duration of each chunk sent to recognizers.
	ChunkMs int `yaml:"chunk_ms"`

	// Realtime paces file playback at speaking speed.
	Realtime bool `yaml:"realtime"`
}

// Stdin is the [AudioConfig.Path] value that reads PCM from standard input.
const Stdin = "-"

// MatchThreshold returns the configured threshold, or [DefaultThreshold]
// when none is set.
func (m MatcherConfig) MatchThreshold() float64 {
	if m.Threshold == nil {
		return DefaultThreshold
	}
	return *m.Threshold
}
