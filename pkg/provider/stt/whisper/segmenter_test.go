package whisper

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scrollsync/pkg/audio"
)

func loud(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < len(buf); i += 2 {
		buf[i+1] = 0x20 // 8192
	}
	return buf
}

func TestSegmenter_DropsLeadingSilence(t *testing.T) {
	g := segmenter{format: audio.Speech, threshold: defaultRMSThreshold, silence: 100 * time.Millisecond, maxLen: time.Second}

	if _, ok := g.push(make([]byte, 3200)); ok {
		t.Fatal("leading silence produced an utterance")
	}
	if len(g.buf) != 0 {
		t.Errorf("leading silence was buffered (%d bytes)", len(g.buf))
	}
}

func TestSegmenter_CutsOnTrailingSilence(t *testing.T) {
	g := segmenter{format: audio.Speech, threshold: defaultRMSThreshold, silence: 100 * time.Millisecond, maxLen: time.Second}

	g.push(make([]byte, 3200)) // 100 ms of lead-in
	if _, ok := g.push(loud(1600)); ok {
		t.Fatal("speech alone produced an utterance")
	}
	if _, ok := g.push(make([]byte, 1600)); ok {
		t.Fatal("50 ms of silence ended the utterance early")
	}
	u, ok := g.push(make([]byte, 1600))
	if !ok {
		t.Fatal("100 ms of silence did not end the utterance")
	}
	if len(u.pcm) != 3200+1600 {
		t.Errorf("utterance is %d bytes, want %d", len(u.pcm), 4800)
	}
	if u.start != 100*time.Millisecond {
		t.Errorf("utterance start = %v, want 100ms", u.start)
	}
	if _, ok := g.flush(); ok {
		t.Error("flush after a cut returned a second utterance")
	}
}

func TestSegmenter_TrimsOnlyTheClosingSilence(t *testing.T) {
	g := segmenter{format: audio.Speech, threshold: defaultRMSThreshold, silence: 150 * time.Millisecond, maxLen: time.Second}

	g.push(loud(1600))
	g.push(make([]byte, 1600)) // 50 ms pause inside the utterance
	g.push(loud(1600))
	var (
		u  utterance
		ok bool
	)
	for range 3 {
		u, ok = g.push(make([]byte, 1600))
	}
	if !ok {
		t.Fatal("150 ms of silence did not end the utterance")
	}
	if want := 3200 + 1600 + 3200 + 1600; len(u.pcm) != want {
		t.Errorf("utterance is %d bytes, want %d", len(u.pcm), want)
	}
}

func TestBuildPrompt(t *testing.T) {
	vocab := make([]string, 0, 100)
	for i := range 100 {
		vocab = append(vocab, string(rune('a'+i%26))+"x")
	}
	got := buildPrompt(vocab)
	if got == "" {
		t.Fatal("empty prompt")
	}
	if n := len(strings.Fields(got)); n != 26 {
		t.Errorf("prompt has %d words, want 26 distinct", n)
	}
	if buildPrompt(nil) != "" {
		t.Error("nil vocabulary should give an empty prompt")
	}
}
