package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/scrollsync/internal/app"
	"github.com/MrWong99/scrollsync/internal/config"
	"github.com/MrWong99/scrollsync/internal/resilience"
	"github.com/MrWong99/scrollsync/pkg/provider/stt"
	"github.com/MrWong99/scrollsync/pkg/provider/stt/deepgram"
	"github.com/MrWong99/scrollsync/pkg/provider/stt/whisper"
)

// registerBuiltinRecognizers wires the recognizer factories that ship with
// scrollsync into reg.
func registerBuiltinRecognizers(reg *config.Registry) {
	reg.Register("whisper", func(rc config.RecognizerConfig) (stt.Provider, error) {
		var opts []whisper.Option
		if rc.Model != "" {
			opts = append(opts, whisper.WithModel(rc.Model))
		}
		if rc.Language != "" {
			opts = append(opts, whisper.WithLanguage(rc.Language))
		}
		if ms, ok := rc.OptInt("silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms, ok := rc.OptInt("max_buffer_ms"); ok {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		opts = append(opts, whisper.WithBreaker(newBreaker(rc)))
		return whisper.New(rc.BaseURL, opts...)
	})

	reg.Register("deepgram", func(rc config.RecognizerConfig) (stt.Provider, error) {
		var opts []deepgram.Option
		if rc.Model != "" {
			opts = append(opts, deepgram.WithModel(rc.Model))
		}
		if rc.Language != "" {
			opts = append(opts, deepgram.WithLanguage(rc.Language))
		}
		if rc.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(rc.BaseURL))
		}
		if boost, ok := rc.OptFloat("keyword_boost"); ok {
			opts = append(opts, deepgram.WithKeywordBoost(boost))
		}
		return deepgram.New(rc.APIKey, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered recognizer", "provider", name)
	}
}

// newBreaker guards one recognizer's backend. The options breaker_failures
// and breaker_cooldown_ms tune it.
func newBreaker(rc config.RecognizerConfig) *resilience.Breaker {
	var opts []resilience.Option
	if n, ok := rc.OptInt("breaker_failures"); ok {
		opts = append(opts, resilience.WithFailures(n))
	}
	if ms, ok := rc.OptInt("breaker_cooldown_ms"); ok {
		opts = append(opts, resilience.WithCooldown(time.Duration(ms)*time.Millisecond))
	}
	return resilience.New(rc.Name, opts...)
}

// buildRecognizers instantiates every recognizer in cfg. All failures are
// reported together.
func buildRecognizers(cfg *config.Config, reg *config.Registry) ([]app.Recognizer, error) {
	var (
		out  []app.Recognizer
		errs []error
	)
	for _, rc := range cfg.Recognizers {
		p, err := reg.Create(rc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, app.Recognizer{Name: rc.Name, Provider: p, Language: rc.Language})
		slog.Info("recognizer created", "name", rc.Name, "provider", rc.ProviderName(), "model", rc.Model)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("build recognizers: %w", err)
	}
	return out, nil
}
