package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MrWong99/scrollsync/internal/align"
	"github.com/MrWong99/scrollsync/internal/document"
)

// matcherFlags are shared by match and follow.
type matcherFlags struct {
	docPath   string
	window    int
	threshold float64
	json      bool
}

func (m *matcherFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&m.docPath, "doc", "d", "", "reference document (.txt, or .yaml/.yml)")
	f.IntVar(&m.window, "window", align.WindowSize, "document tokens compared per offset")
	f.Float64Var(&m.threshold, "threshold", align.MatchThreshold, "score a match must exceed to count")
	f.BoolVar(&m.json, "json", false, "print JSON lines instead of text")
	_ = cmd.MarkFlagRequired("doc")
}

func (m *matcherFlags) validate() error {
	if m.window < 1 {
		return fmt.Errorf("--window must be at least 1, got %d", m.window)
	}
	if m.threshold < 0 || m.threshold > 1 {
		return fmt.Errorf("--threshold must be within [0, 1], got %g", m.threshold)
	}
	return nil
}

func (m *matcherFlags) load() (*document.Document, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return document.Load(m.docPath)
}

func (m *matcherFlags) aligner() *align.Aligner {
	return align.New(align.WithWindowSize(m.window))
}

type matchResult struct {
	Line     int     `json:"line"`
	Score    float64 `json:"score"`
	Offset   int     `json:"offset"`
	Accepted bool    `json:"accepted"`
	Text     string  `json:"text"`

	Pairs []align.Pair `json:"pairs,omitempty"`
}

func newMatchCmd(root *rootOptions) *cobra.Command {
	var (
		mf      matcherFlags
		explain bool
	)
	cmd := &cobra.Command{
		Use:   "match --doc FILE [flags] TEXT...",
		Short: "Align one recognized fragment against a document",
		Example: `  scrollsync match --doc camoes.txt "o tempo cobre o chão de verde manto"
  scrollsync match --doc camoes.txt --explain o tempo cobre o chao`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := mf.load()
			if err != nil {
				return err
			}
			ix := mf.aligner().Prepare(doc.Lines)
			tokens := align.Normalize(strings.Join(args, " "))
			m := ix.Match(tokens)
			res := matchResult{
				Line:     m.Line,
				Score:    m.Score,
				Offset:   m.Offset,
				Accepted: m.Score > mf.threshold,
				Text:     doc.Lines[m.Line],
			}
			if explain {
				res.Pairs = align.Explain(tokens, ix.Window(m.Offset))
			}
			if mf.json {
				return json.NewEncoder(root.stdout).Encode(res)
			}
			printMatch(root.stdout, res)
			return nil
		},
	}
	mf.register(cmd)
	cmd.Flags().BoolVar(&explain, "explain", false, "show the per-token score breakdown")
	return cmd
}

var (
	acceptedLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	rejectedLabel = color.New(color.FgRed).SprintFunc()
	dim           = color.New(color.Faint).SprintFunc()
)

func verdict(accepted bool) string {
	if accepted {
		return acceptedLabel("accepted")
	}
	return rejectedLabel("rejected")
}

func printMatch(w io.Writer, r matchResult) {
	fmt.Fprintf(w, "line %d  score %.3f  %s\n", r.Line, r.Score, verdict(r.Accepted))
	fmt.Fprintf(w, "  %s\n", r.Text)
	if len(r.Pairs) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, dim("HEARD\tREFERENCE\tEXACT\tEDIT\tSOUNDEX\tSCORE"))
	for _, p := range r.Pairs {
		fmt.Fprintf(tw, "%s\t%s\t%.0f\t%.2f\t%.0f\t%.2f\n", p.Recognized, p.Reference, p.Exact, p.Edit, p.Phonetic, p.Score)
	}
	_ = tw.Flush()
}
