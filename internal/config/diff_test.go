package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/scrollsync/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo, LogFormat: config.LogText},
		Document: config.DocumentConfig{Path: "sonnet.txt", Watch: true},
		Matcher:  config.MatcherConfig{WindowSize: 40, Threshold: new(0.7), CacheSize: 256},
		Recognizers: []config.RecognizerConfig{
			{Name: "whisper", BaseURL: "http://localhost:8081", Options: map[string]any{
				"silence_threshold_ms": 500,
				"nested":               map[string]any{"a": 1},
			}},
		},
		Audio: config.AudioConfig{Path: "reading.wav", SampleRate: 16000, Channels: 1, ChunkMs: 20},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug
	threshold := 0.8
	new.Matcher.Threshold = &threshold
	new.Matcher.Partials = true
	new.Document.Path = "other.txt"

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: changed=%v new=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.ThresholdChanged || d.NewThreshold != 0.8 {
		t.Errorf("threshold: changed=%v new=%f", d.ThresholdChanged, d.NewThreshold)
	}
	if !d.PartialsChanged || !d.NewPartials {
		t.Errorf("partials: changed=%v new=%v", d.PartialsChanged, d.NewPartials)
	}
	if !d.DocumentChanged || d.NewDocument.Path != "other.txt" {
		t.Errorf("document: changed=%v new=%+v", d.DocumentChanged, d.NewDocument)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-only changes, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Server.OTLPEndpoint = "localhost:4318"
	new.Matcher.WindowSize = 20
	new.Recognizers[0].Options["nested"] = map[string]any{"a": 2}
	new.Audio.Realtime = true

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "server.otlp_endpoint", "matcher.window_size", "recognizers", "audio"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged || d.ThresholdChanged || d.DocumentChanged {
		t.Errorf("unexpected hot-reload changes: %+v", d)
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}

func TestDiff_RecognizerAdded(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Recognizers = append(new.Recognizers, config.RecognizerConfig{Name: "deepgram", APIKey: "k"})

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "recognizers") {
		t.Errorf("RestartRequired = %v, want recognizers", d.RestartRequired)
	}
}
