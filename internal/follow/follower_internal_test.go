package follow

import (
	"testing"

	"github.com/MrWong99/scrollsync/internal/document"
)

func TestPublish_DropsMatchFromReplacedDocument(t *testing.T) {
	t.Parallel()

	long, err := document.New("long", []string{"um", "dois", "tres", "quatro", "cinco"})
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	short, err := document.New("short", []string{"um"})
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	f, err := New(long)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, cancel := f.Subscribe()
	defer cancel()

	stale := f.state.Load()
	f.SetDocument(short)

	if f.publish(stale, Event{Line: 4, Score: 0.9}) {
		t.Error("publish accepted an event aligned against the old document")
	}
	if ev, ok := f.Position(); ok {
		t.Errorf("Position = %+v after a stale publish, want none", ev)
	}
	select {
	case ev := <-ch:
		t.Errorf("subscriber received stale event %+v", ev)
	default:
	}

	if !f.publish(f.state.Load(), Event{Line: 0, Score: 0.9}) {
		t.Fatal("publish rejected an event for the current document")
	}
	if ev, ok := f.Position(); !ok || ev.Line != 0 {
		t.Errorf("Position = %+v, %v; want line 0", ev, ok)
	}
}
