package align_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/scrollsync/internal/align"
)

// sonnet is Camões' "Mudam-se os tempos", laid out one verse per line. It
// normalizes to 88 tokens, so window offsets run from 0 to 48.
var sonnet = []string{
	"Mudam-se os tempos, mudam-se as vontades,",
	"Muda-se o ser, muda-se a confiança;",
	"Todo o mundo é composto de mudança,",
	"Tomando sempre novas qualidades.    ",
	"Continuamente vemos novidades,",
	"Diferentes em tudo da esperança;",
	"Do mal ficam as mágoas na lembrança,",
	"E do bem, se algum houve, as saudades.",
	"O tempo cobre o chão de verde manto,",
	"Que já coberto foi de neve fria,",
	"E em mim converte em choro o doce canto.",
	"E, afora este mudar-se cada dia,",
	"Outra mudança faz de mor espanto:",
	"Que não se muda já como soía.",
}

func TestFindBestMatch_FirstLine(t *testing.T) {
	t.Parallel()

	recognized := align.Normalize("mudam-se os tempos mudam-se as vontades")
	got := align.FindBestMatch(recognized, sonnet)
	if got.Line != 0 {
		t.Errorf("Line = %d, want 0", got.Line)
	}
	if got.Score <= align.MatchThreshold {
		t.Errorf("Score = %f, want > %f", got.Score, align.MatchThreshold)
	}
	if !got.Accepted() {
		t.Error("Accepted() = false, want true")
	}
}

func TestFindBestMatch_EachReachableLine(t *testing.T) {
	t.Parallel()

	// Lines 0–8 start at offsets 0, 6, 12, 18, 22, 25, 30, 37 and 45, all of
	// which are valid window starts.
	for line := 0; line <= 8; line++ {
		t.Run(fmt.Sprintf("line%d", line), func(t *testing.T) {
			t.Parallel()
			got := align.FindBestMatch(align.Normalize(sonnet[line]), sonnet)
			if got.Line != line {
				t.Errorf("Line = %d, want %d", got.Line, line)
			}
			if got.Score != 1 {
				t.Errorf("Score = %f, want 1", got.Score)
			}
		})
	}
}

func TestFindBestMatch_TailBeyondLastWindow(t *testing.T) {
	t.Parallel()

	// Line 9 starts at offset 53, past the last window start (48), so no
	// window aligns its first token with the fragment's first token.
	got := align.FindBestMatch(align.Normalize(sonnet[9]), sonnet)
	if got.Accepted() {
		t.Errorf("tail line accepted with %+v; positional scoring cannot reach it", got)
	}
	if got.Line < 0 || got.Line >= len(sonnet) {
		t.Errorf("Line %d out of range", got.Line)
	}
}

func TestFindBestMatch_SplitHyphenatedWords(t *testing.T) {
	t.Parallel()

	// A recognizer that emits "mudam se" instead of "mudam-se" desynchronizes
	// every later position: the document token is "mudamse".
	got := align.FindBestMatch([]string{"mudam", "se", "os", "tempos"}, sonnet)
	if got.Accepted() {
		t.Errorf("split fragment accepted with %+v, want below threshold", got)
	}
}

func TestFindBestMatch_ShortDocument(t *testing.T) {
	t.Parallel()

	short := []string{"Twinkle, twinkle, little star,", "How I wonder what you are!"}
	got := align.FindBestMatch(align.Normalize(short[0]), short)
	if got != (align.Match{}) {
		t.Errorf("FindBestMatch on short document = %+v, want zero Match", got)
	}
}

func TestFindBestMatch_EmptyInputs(t *testing.T) {
	t.Parallel()

	if got := align.FindBestMatch(nil, sonnet); got != (align.Match{}) {
		t.Errorf("empty recognized = %+v, want zero Match", got)
	}
	if got := align.FindBestMatch([]string{"tempo"}, nil); got != (align.Match{}) {
		t.Errorf("empty document = %+v, want zero Match", got)
	}
}

// repeatedDoc builds a document in which the same stanza appears twice, with
// enough filler after it that both copies are valid window starts.
func repeatedDoc() []string {
	filler := strings.Repeat("la ", 50)
	return []string{
		"alpha beta gamma delta",
		"one two three four five six seven eight nine ten",
		"alpha beta gamma delta",
		filler,
	}
}

func TestFindBestMatch_TieKeepsEarliest(t *testing.T) {
	t.Parallel()

	got := align.FindBestMatch([]string{"alpha", "beta", "gamma", "delta"}, repeatedDoc())
	if got.Line != 0 || got.Offset != 0 {
		t.Errorf("got %+v, want line 0 offset 0", got)
	}
	if got.Score != 1 {
		t.Errorf("Score = %f, want 1", got.Score)
	}
}

func TestAligner_ParallelMatchesSequential(t *testing.T) {
	t.Parallel()

	var long []string
	for range 6 {
		long = append(long, sonnet...)
	}
	long = append(long, repeatedDoc()...)

	seq := align.New()
	fragments := [][]string{
		align.Normalize(sonnet[4]),
		align.Normalize("o tempo cobre o chao"),
		{"alpha", "beta", "gamma", "delta"},
		{"zzz"},
	}
	for _, workers := range []int{2, 3, 8, 64} {
		par := align.New(align.WithWorkers(workers))
		for _, frag := range fragments {
			want := seq.FindBestMatch(frag, long)
			got := par.FindBestMatch(frag, long)
			if got != want {
				t.Errorf("workers=%d fragment %q: got %+v, want %+v", workers, frag, got, want)
			}
		}
	}
}

func TestAligner_WindowSize(t *testing.T) {
	t.Parallel()

	a := align.New(align.WithWindowSize(4))
	if a.WindowSize() != 4 {
		t.Fatalf("WindowSize() = %d, want 4", a.WindowSize())
	}
	short := []string{"Twinkle, twinkle, little star,", "How I wonder what you are!"}
	got := a.FindBestMatch(align.Normalize("how i wonder"), short)
	if got.Line != 1 || got.Score != 1 {
		t.Errorf("got %+v, want line 1 score 1", got)
	}

	if align.New(align.WithWindowSize(0)).WindowSize() != align.WindowSize {
		t.Error("WithWindowSize(0) should keep the default")
	}
}

func TestIndex_ReuseMatchesFindBestMatch(t *testing.T) {
	t.Parallel()

	a := align.New()
	ix := a.Prepare(sonnet)
	if len(ix.Tokens()) != 88 {
		t.Fatalf("Tokens() length = %d, want 88", len(ix.Tokens()))
	}
	for _, line := range sonnet {
		frag := align.Normalize(line)
		if got, want := ix.Match(frag), a.FindBestMatch(frag, sonnet); got != want {
			t.Errorf("Index.Match(%q) = %+v, want %+v", frag, got, want)
		}
	}
	if w := ix.Window(48); len(w) != align.WindowSize {
		t.Errorf("Window(48) length = %d, want %d", len(w), align.WindowSize)
	}
	if w := ix.Window(88); w != nil {
		t.Errorf("Window(88) = %q, want nil", w)
	}
}

func TestLineAt(t *testing.T) {
	t.Parallel()

	lines := []string{"one two", "", "?!", "three", "four five six"}
	tests := []struct {
		offset int
		want   int
	}{
		{0, 0},
		{1, 0},
		{2, 3},
		{3, 4},
		{5, 4},
		{6, 4},
		{1000, 4},
	}
	ix := align.New().Prepare(lines)
	for _, tt := range tests {
		if got := align.LineAt(tt.offset, lines); got != tt.want {
			t.Errorf("LineAt(%d) = %d, want %d", tt.offset, got, tt.want)
		}
		if got := ix.LineAt(tt.offset); got != tt.want {
			t.Errorf("Index.LineAt(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}
	if got := align.LineAt(3, nil); got != 0 {
		t.Errorf("LineAt on empty document = %d, want 0", got)
	}
}
