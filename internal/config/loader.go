package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultWindowSize = 40
	DefaultThreshold  = 0.7
	DefaultCacheSize  = 256
	DefaultSampleRate = 16000
	DefaultChunkMs    = 20
)

// ValidProviderNames lists the recognizer implementations that ship with
// scrollsync. Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"whisper", "deepgram"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A relative document path is resolved against the directory of
// path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	resolvePaths(cfg, filepath.Dir(path))
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}
	if cfg.Matcher.WindowSize == 0 {
		cfg.Matcher.WindowSize = DefaultWindowSize
	}
	if cfg.Matcher.Threshold == nil {
		cfg.Matcher.Threshold = new(float64(DefaultThreshold))
	}
	if cfg.Matcher.CacheSize == 0 {
		cfg.Matcher.CacheSize = DefaultCacheSize
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkMs == 0 {
		cfg.Audio.ChunkMs = DefaultChunkMs
	}
}

func resolvePaths(cfg *Config, dir string) {
	if p := cfg.Document.Path; p != "" && !filepath.IsAbs(p) {
		cfg.Document.Path = filepath.Join(dir, p)
	}
	if p := cfg.Audio.Path; p != "" && p != Stdin && !filepath.IsAbs(p) {
		cfg.Audio.Path = filepath.Join(dir, p)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Document
	if cfg.Document.Path == "" {
		errs = append(errs, errors.New("document.path is required"))
	}

	// Matcher
	if cfg.Matcher.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("matcher.window_size %d must be positive", cfg.Matcher.WindowSize))
	}
	if t := cfg.Matcher.MatchThreshold(); t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("matcher.threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Matcher.Workers < 0 {
		errs = append(errs, fmt.Errorf("matcher.workers %d must not be negative", cfg.Matcher.Workers))
	}

	// Recognizers
	seen := make(map[string]int, len(cfg.Recognizers))
	for i, rc := range cfg.Recognizers {
		prefix := fmt.Sprintf("recognizers[%d]", i)
		if rc.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[rc.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of recognizers[%d]", prefix, rc.Name, prev))
		}
		seen[rc.Name] = i

		provider := rc.ProviderName()
		if !slices.Contains(ValidProviderNames, provider) {
			slog.Warn("unknown recognizer provider, may be a typo or third-party provider",
				"recognizer", rc.Name,
				"provider", provider,
				"known", ValidProviderNames,
			)
		}
		if provider == "deepgram" && rc.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: provider deepgram requires api_key", prefix))
		}
		if provider == "whisper" && rc.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: provider whisper requires base_url", prefix))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.ChunkMs < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_ms %d must not be negative", cfg.Audio.ChunkMs))
	}
	if cfg.Audio.Path != "" && len(cfg.Recognizers) == 0 {
		slog.Warn("audio.path is set but no recognizers are configured; audio will not be used")
	}

	return errors.Join(errs...)
}
