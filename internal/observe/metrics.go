// Package observe provides application-wide observability primitives for
// scrollsync: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from /metrics.
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scrollsync metrics.
const meterName = "github.com/MrWong99/scrollsync"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// MatchDuration tracks how long one alignment of a fragment against the
	// document takes.
	MatchDuration metric.Float64Histogram

	// MatchScore is the distribution of best-window scores. Use with
	// attribute:
	//   attribute.Bool("accepted", ...)
	MatchScore metric.Float64Histogram

	// Fragments counts recognized fragments received. Use with attributes:
	//   attribute.String("source", ...), attribute.String("kind", "partial"|"final")
	Fragments metric.Int64Counter

	// FragmentsDropped counts fragments discarded because the follower's
	// inbox was full. Use with attribute:
	//   attribute.String("source", ...)
	FragmentsDropped metric.Int64Counter

	// Scrolls counts accepted matches published to displays.
	Scrolls metric.Int64Counter

	// MatchCache counts fragment cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	MatchCache metric.Int64Counter

	// RecognizerErrors counts recognizer failures. Use with attributes:
	//   attribute.String("recognizer", ...), attribute.String("stage", ...)
	RecognizerErrors metric.Int64Counter

	// DocumentReloads counts successful reloads of the reference document.
	DocumentReloads metric.Int64Counter

	// DisplayClients tracks connected display WebSocket clients.
	DisplayClients metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// matchBuckets are boundaries in seconds. A scan over a few thousand tokens
// finishes in well under a millisecond.
var matchBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.1,
}

// scoreBuckets straddle the acceptance threshold.
var scoreBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.MatchDuration, err = m.Float64Histogram("scrollsync.match.duration",
		metric.WithDescription("Latency of aligning one fragment against the document."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(matchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchScore, err = m.Float64Histogram("scrollsync.match.score",
		metric.WithDescription("Best-window score per aligned fragment."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Fragments, err = m.Int64Counter("scrollsync.fragments",
		metric.WithDescription("Recognized fragments received by source and kind."),
	); err != nil {
		return nil, err
	}
	if met.FragmentsDropped, err = m.Int64Counter("scrollsync.fragments.dropped",
		metric.WithDescription("Fragments dropped because the follower was busy."),
	); err != nil {
		return nil, err
	}
	if met.Scrolls, err = m.Int64Counter("scrollsync.scrolls",
		metric.WithDescription("Accepted matches published to displays."),
	); err != nil {
		return nil, err
	}
	if met.MatchCache, err = m.Int64Counter("scrollsync.match.cache",
		metric.WithDescription("Fragment cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerErrors, err = m.Int64Counter("scrollsync.recognizer.errors",
		metric.WithDescription("Recognizer failures by recognizer and stage."),
	); err != nil {
		return nil, err
	}
	if met.DocumentReloads, err = m.Int64Counter("scrollsync.document.reloads",
		metric.WithDescription("Successful reference document reloads."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.DisplayClients, err = m.Int64UpDownCounter("scrollsync.display.clients",
		metric.WithDescription("Number of connected display clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scrollsync.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordMatch records the latency and score of one alignment.
func (m *Metrics) RecordMatch(ctx context.Context, d time.Duration, score float64, accepted bool) {
	m.MatchDuration.Record(ctx, d.Seconds())
	m.MatchScore.Record(ctx, score, metric.WithAttributes(attribute.Bool("accepted", accepted)))
	if accepted {
		m.Scrolls.Add(ctx, 1)
	}
}

// RecordFragment counts a received fragment.
func (m *Metrics) RecordFragment(ctx context.Context, source string, final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	m.Fragments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("kind", kind),
		),
	)
}

// RecordDropped counts a fragment discarded by a full inbox.
func (m *Metrics) RecordDropped(ctx context.Context, source string) {
	m.FragmentsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordCache counts a fragment cache lookup.
func (m *Metrics) RecordCache(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.MatchCache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRecognizerError counts a recognizer failure. stage is one of
// "start", "audio" or "close".
func (m *Metrics) RecordRecognizerError(ctx context.Context, recognizer, stage string) {
	m.RecognizerErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("recognizer", recognizer),
			attribute.String("stage", stage),
		),
	)
}
