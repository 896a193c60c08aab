// Command scrollsync follows a speaker reading a poem or lyric and scrolls
// the text to where they are.
//
// Subcommands:
//
//	scrollsync serve   run recognizers and the display server from a config file
//	scrollsync match   align one fragment against a document and print the result
//	scrollsync follow  align recognizer output piped on stdin, one fragment per line
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scrollsync: %v\n", err)
		return 1
	}
	return 0
}
