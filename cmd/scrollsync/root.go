package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MrWong99/scrollsync/internal/config"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	logLevel  string
	logFormat string
	noColor   bool

	// level is the live log level; serve hands it to the app so config
	// reloads can change it.
	level *slog.LevelVar

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{
		level:  new(slog.LevelVar),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	cmd := &cobra.Command{
		Use:   "scrollsync",
		Short: "Scroll a poem or lyric along with the person reading it",
		Long: `scrollsync aligns speech-recognized fragments against a reference text and
reports which line the speaker is on. The serve command drives a browser
display; match and follow work on plain text for scripting and tuning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.installLogger()
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (default from config, else info)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json (default from config, else text)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMatchCmd(opts),
		newFollowCmd(opts),
	)

	return cmd
}

// installLogger validates the log flags and sets the default slog logger.
func (o *rootOptions) installLogger() error {
	level := config.LogLevel(o.logLevel)
	if o.logLevel != "" && !level.IsValid() {
		return fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	format := config.LogFormat(o.logFormat)
	if o.logFormat != "" && !format.IsValid() {
		return fmt.Errorf("invalid --log-format %q", o.logFormat)
	}
	if o.noColor {
		color.NoColor = true
	}
	o.level.Set(level.Level())
	slog.SetDefault(newLogger(o.stderr, format, o.level))
	return nil
}

// applyConfig takes the log settings from cfg for any flag left unset.
func (o *rootOptions) applyConfig(cfg *config.Config) {
	if o.logLevel == "" {
		o.level.Set(cfg.Server.LogLevel.Level())
	}
	if o.logFormat == "" && cfg.Server.LogFormat != "" {
		slog.SetDefault(newLogger(o.stderr, cfg.Server.LogFormat, o.level))
	}
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: level}
	if format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
