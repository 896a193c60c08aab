package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. The first group of
// fields can be applied to a running server; anything listed in
// RestartRequired cannot.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	PartialsChanged bool
	NewPartials     bool

	DocumentChanged bool
	NewDocument     DocumentConfig

	// RestartRequired names the config keys that changed but only take
	// effect after a restart, e.g. "server.listen_addr".
	RestartRequired []string
}

// Changed reports whether the diff contains any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.PartialsChanged ||
		d.DocumentChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Matcher.MatchThreshold() != new.Matcher.MatchThreshold() {
		d.ThresholdChanged = true
		d.NewThreshold = new.Matcher.MatchThreshold()
	}
	if old.Matcher.Partials != new.Matcher.Partials {
		d.PartialsChanged = true
		d.NewPartials = new.Matcher.Partials
	}
	if old.Document != new.Document {
		d.DocumentChanged = true
		d.NewDocument = new.Document
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("server.otlp_endpoint", old.Server.OTLPEndpoint != new.Server.OTLPEndpoint)
	restart("matcher.window_size", old.Matcher.WindowSize != new.Matcher.WindowSize)
	restart("matcher.workers", old.Matcher.Workers != new.Matcher.Workers)
	restart("matcher.cache_size", old.Matcher.CacheSize != new.Matcher.CacheSize)
	restart("recognizers", !slices.EqualFunc(old.Recognizers, new.Recognizers, equalRecognizer))
	restart("audio", old.Audio != new.Audio)

	return d
}

// Options may hold nested maps, which are not comparable with ==.
func equalRecognizer(a, b RecognizerConfig) bool {
	return reflect.DeepEqual(a, b)
}
