package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/scrollsync/internal/app"
	"github.com/MrWong99/scrollsync/internal/config"
	"github.com/MrWong99/scrollsync/internal/observe"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	*rootOptions

	configPath   string
	watchConfig  bool
	listen       string
	otlpEndpoint string

	// listener, when set, replaces listening on the configured address.
	listener net.Listener
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recognizers and the scrolling display",
		Long: `serve loads the config file, starts one session per configured recognizer,
streams the configured audio to them and serves a browser display that
scrolls to the line being read.

Log level, match threshold, partial alignment and the document path are
reloaded when the config file changes. Other changes need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	f.BoolVar(&opts.watchConfig, "watch-config", true, "apply config file changes while running")
	f.StringVar(&opts.listen, "listen", "", "override server.listen_addr")
	f.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "override server.otlp_endpoint (host:port of an OTLP/HTTP collector)")
	return cmd
}

func (o *serveOptions) run(ctx context.Context) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", o.configPath)
		}
		return err
	}
	o.applyConfig(cfg)
	if o.listen != "" {
		cfg.Server.ListenAddr = o.listen
	}
	if o.otlpEndpoint != "" {
		cfg.Server.OTLPEndpoint = o.otlpEndpoint
	}

	slog.Info("scrollsync starting",
		"config", o.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := newTraceExporter(ctx, cfg.Server.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init trace exporter: %w", err)
	}
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Registry:      promReg,
		TraceExporter: exporter,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	shutdownTelemetry := func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(sctx)
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		_ = shutdownTelemetry()
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Recognizers ───────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinRecognizers(reg)
	recognizers, err := buildRecognizers(cfg, reg)
	if err != nil {
		_ = shutdownTelemetry()
		return err
	}

	appOpts := []app.Option{
		app.WithRecognizers(recognizers...),
		app.WithMetrics(metrics),
		app.WithRegistry(promReg),
		app.WithAudio(o.stdin),
		app.WithCloser(shutdownTelemetry),
	}
	if o.logLevel == "" {
		appOpts = append(appOpts, app.WithLevelVar(o.level))
	}
	if o.listener != nil {
		appOpts = append(appOpts, app.WithListener(o.listener))
	}
	a, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		_ = shutdownTelemetry()
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	var current atomic.Pointer[app.App]
	current.Store(a)
	if o.watchConfig {
		w, err := config.NewWatcher(o.configPath, func(old, new *config.Config) {
			if a := current.Load(); a != nil {
				a.Reconfigure(config.Diff(old, new))
			}
		})
		if err != nil {
			slog.Warn("config watcher not started", "path", o.configPath, "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(o.stdout, cfg, recognizers)
	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := a.Run(ctx)
	current.Store(nil)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := a.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	return runErr
}

// newTraceExporter returns an OTLP/HTTP span exporter for endpoint, or nil
// when endpoint is empty.
func newTraceExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		return nil, nil
	}
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	slog.Info("exporting traces", "endpoint", endpoint)
	return exp, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, rs []app.Recognizer) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       scrollsync startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	summaryRow(w, "Document", cfg.Document.Path)
	summaryRow(w, "Threshold", fmt.Sprintf("%.2f", cfg.Matcher.MatchThreshold()))
	summaryRow(w, "Window", fmt.Sprintf("%d tokens", cfg.Matcher.WindowSize))
	if len(rs) == 0 {
		summaryRow(w, "Recognizer", "(none)")
	}
	for _, r := range rs {
		summaryRow(w, "Recognizer", r.Name)
	}
	audioSrc := cfg.Audio.Path
	switch audioSrc {
	case "":
		audioSrc = "(none)"
	case config.Stdin:
		audioSrc = "stdin"
	}
	summaryRow(w, "Audio", audioSrc)
	summaryRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func summaryRow(w io.Writer, key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = "…" + string(r[len(r)-18:])
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", key, value)
}
