package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MrWong99/scrollsync/internal/follow"
)

// followEvent is an accepted match with the document line it landed on.
type followEvent struct {
	follow.Event
	Lyric string `json:"lyric"`
}

func newFollowCmd(root *rootOptions) *cobra.Command {
	var (
		mf     matcherFlags
		source string
	)
	cmd := &cobra.Command{
		Use:   "follow --doc FILE [flags]",
		Short: "Align recognizer output read from stdin, one fragment per line",
		Long: `follow reads recognized text from stdin, one fragment per line, and prints
a line for every fragment that scrolls the display. Rejected fragments are
logged at debug level.`,
		Example: `  whisper-stream | scrollsync follow --doc camoes.txt
  scrollsync follow --doc camoes.yaml --json < transcript.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := mf.load()
			if err != nil {
				return err
			}
			f, err := follow.New(doc,
				follow.WithAligner(mf.aligner()),
				follow.WithThreshold(mf.threshold),
			)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(root.stdout)
			var writeErr error
			ctx := cmd.Context()
			err = follow.FromReader(source, root.stdin).Feed(ctx, func(fr follow.Fragment) {
				ev, ok := f.Process(ctx, fr)
				if !ok || writeErr != nil {
					return
				}
				out := followEvent{Event: ev, Lyric: doc.Lines[ev.Line]}
				if mf.json {
					writeErr = enc.Encode(out)
					return
				}
				printFollow(root.stdout, out)
			})
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return errors.Join(err, writeErr)
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&source, "source", "stdin", "source name reported in events")
	return cmd
}

var lineLabel = color.New(color.FgCyan).SprintfFunc()

func printFollow(w io.Writer, ev followEvent) {
	fmt.Fprintf(w, "%s  %.3f  %s\n", lineLabel("line %d", ev.Line), ev.Score, ev.Lyric)
}
