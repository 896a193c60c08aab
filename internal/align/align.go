package align

import (
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// WindowSize is the number of document tokens compared against each
	// recognized fragment.
	WindowSize = 40

	// MatchThreshold is the score a [Match] must exceed before a display
	// should act on it. Applying it is caller policy.
	MatchThreshold = 0.7

	// minChunk is the smallest number of window offsets handed to one
	// worker. Below this the goroutine overhead outweighs the scan.
	minChunk = 16
)

// Match is the result of one alignment call.
type Match struct {
	// Line is the 0-based index of the document line containing the first
	// token of the best window. Always a valid index for a non-empty document.
	Line int

	// Score is the best window score in [0, 1]. Zero means there was not
	// enough information to localize the speaker.
	Score float64

	// Offset is the flattened token offset of the best window.
	Offset int
}

// Accepted reports whether m clears [MatchThreshold].
func (m Match) Accepted() bool {
	return m.Score > MatchThreshold
}

// Option configures an [Aligner].
type Option func(*Aligner)

// WithWindowSize overrides the window length. Values below 1 are ignored.
// Default: [WindowSize].
func WithWindowSize(n int) Option {
	return func(a *Aligner) {
		if n > 0 {
			a.window = n
		}
	}
}

// WithWorkers sets how many goroutines scan window offsets in parallel.
// Results are identical for any worker count. Default: 1.
func WithWorkers(n int) Option {
	return func(a *Aligner) {
		if n > 0 {
			a.workers = n
		}
	}
}

// Aligner finds the best-matching line for recognized tokens. It holds only
// configuration and is safe for concurrent use.
type Aligner struct {
	window  int
	workers int
}

// New returns an [Aligner] with the given options applied.
func New(opts ...Option) *Aligner {
	a := &Aligner{window: WindowSize, workers: 1}
	for _, o := range opts {
		o(a)
	}
	return a
}

// WindowSize returns the configured window length.
func (a *Aligner) WindowSize() int { return a.window }

var defaultAligner = New()

// FindBestMatch aligns recognized against lines with the default window size
// and a sequential scan. See [Aligner.FindBestMatch].
func FindBestMatch(recognized []string, lines []string) Match {
	return defaultAligner.FindBestMatch(recognized, lines)
}

// FindBestMatch normalizes lines, scores every window of the document token
// stream against recognized, and returns the line holding the best window.
//
// Ties keep the earliest offset. A document shorter than one window, an empty
// recognized slice, or a scan in which no window scores above zero all return
// the zero Match.
func (a *Aligner) FindBestMatch(recognized []string, lines []string) Match {
	return a.Prepare(lines).Match(recognized)
}

// Index is a tokenized reference document. Build one with [Aligner.Prepare]
// when the same document is matched repeatedly. An Index is immutable.
type Index struct {
	aligner *Aligner
	lines   []string
	tokens  []string
	// cum[i] is the number of tokens in lines[0..i].
	cum []int
}

// Prepare tokenizes lines once for repeated matching. The document tokens are
// the normalization of all lines joined by a single space; line boundaries
// come from normalizing each line on its own.
func (a *Aligner) Prepare(lines []string) *Index {
	ix := &Index{
		aligner: a,
		lines:   lines,
		tokens:  Normalize(strings.Join(lines, " ")),
		cum:     make([]int, len(lines)),
	}
	total := 0
	for i, l := range lines {
		total += len(Normalize(l))
		ix.cum[i] = total
	}
	return ix
}

// Lines returns the raw document lines.
func (ix *Index) Lines() []string { return ix.lines }

// Tokens returns the flattened document tokens. Callers must not modify it.
func (ix *Index) Tokens() []string { return ix.tokens }

// Window returns the document window starting at offset, truncated at the
// end of the document.
func (ix *Index) Window(offset int) []string {
	if offset < 0 || offset >= len(ix.tokens) {
		return nil
	}
	end := min(offset+ix.aligner.window, len(ix.tokens))
	return ix.tokens[offset:end]
}

// LineAt maps a flattened token offset to its line. See [LineAt].
func (ix *Index) LineAt(offset int) int {
	if len(ix.cum) == 0 {
		return 0
	}
	i := sort.Search(len(ix.cum), func(i int) bool { return ix.cum[i] > offset })
	if i == len(ix.cum) {
		return len(ix.cum) - 1
	}
	return i
}

// Match aligns recognized against the indexed document.
func (ix *Index) Match(recognized []string) Match {
	w := ix.aligner.window
	windows := len(ix.tokens) - w + 1
	if windows <= 0 || len(recognized) == 0 {
		return Match{}
	}

	var best scan
	if workers := ix.aligner.workers; workers > 1 && windows >= 2*minChunk {
		best = ix.scanParallel(recognized, windows, workers)
	} else {
		best = ix.scanRange(recognized, 0, windows)
	}
	if best.score <= 0 {
		return Match{}
	}
	return Match{
		Line:   ix.LineAt(best.offset),
		Score:  best.score,
		Offset: best.offset,
	}
}

type scan struct {
	offset int
	score  float64
}

// scanRange scores window offsets [from, to) and keeps the first maximum.
func (ix *Index) scanRange(recognized []string, from, to int) scan {
	w := ix.aligner.window
	best := scan{offset: from}
	for i := from; i < to; i++ {
		if s := Score(recognized, ix.tokens[i:i+w]); s > best.score {
			best = scan{offset: i, score: s}
		}
	}
	return best
}

// scanParallel splits the offsets into contiguous chunks, one per worker.
// Reducing chunk winners in offset order with a strict comparison keeps the
// earliest offset on ties, exactly as the sequential scan does.
func (ix *Index) scanParallel(recognized []string, windows, workers int) scan {
	chunk := max((windows+workers-1)/workers, minChunk)
	results := make([]scan, 0, workers)
	for from := 0; from < windows; from += chunk {
		results = append(results, scan{offset: from})
	}

	var g errgroup.Group
	for k := range results {
		from := results[k].offset
		to := min(from+chunk, windows)
		g.Go(func() error {
			results[k] = ix.scanRange(recognized, from, to)
			return nil
		})
	}
	_ = g.Wait()

	best := scan{}
	for _, r := range results {
		if r.score > best.score {
			best = r
		}
	}
	return best
}

// LineAt returns the index of the line containing flattened token offset k:
// the first line whose cumulative token count exceeds k. Lines that normalize
// to no tokens contribute nothing. An offset past the last token returns the
// last line; an empty document returns 0.
func LineAt(k int, lines []string) int {
	count := 0
	for i, l := range lines {
		count += len(Normalize(l))
		if count > k {
			return i
		}
	}
	if len(lines) == 0 {
		return 0
	}
	return len(lines) - 1
}
