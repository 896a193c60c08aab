package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/scrollsync/internal/health"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, h *health.Handler, path string) (int, body) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, b
}

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "broken", Check: func(context.Context) error { return errors.New("x") }})
	code, b := get(t, h, "/healthz")
	if code != http.StatusOK || b.Status != "ok" {
		t.Errorf("/healthz = %d %+v, want 200 ok", code, b)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []health.Checker
		wantCode   int
		wantStatus string
	}{
		{"no checkers", nil, http.StatusOK, "ok"},
		{"all pass", []health.Checker{{Name: "document", Check: ok}, {Name: "whisper", Check: ok}}, http.StatusOK, "ok"},
		{"one fails", []health.Checker{
			{Name: "document", Check: ok},
			{Name: "deepgram", Check: func(context.Context) error { return errors.New("dial refused") }},
		}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, b := get(t, health.New(tt.checkers...), "/readyz")
			if code != tt.wantCode || b.Status != tt.wantStatus {
				t.Errorf("/readyz = %d %q, want %d %q", code, b.Status, tt.wantCode, tt.wantStatus)
			}
			for _, c := range tt.checkers {
				if _, ok := b.Checks[c.Name]; !ok {
					t.Errorf("checks missing %q: %v", c.Name, b.Checks)
				}
			}
		})
	}
}

func TestReadyz_FailureMessage(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "deepgram", Check: func(context.Context) error { return errors.New("dial refused") }})
	_, b := get(t, h, "/readyz")
	if b.Checks["deepgram"] != "fail: dial refused" {
		t.Errorf("deepgram = %q", b.Checks["deepgram"])
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	slow := func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}
	h := health.New(
		health.Checker{Name: "a", Check: slow},
		health.Checker{Name: "b", Check: slow},
		health.Checker{Name: "c", Check: slow},
	)
	start := time.Now()
	code, _ := get(t, h, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d", code)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want checks to overlap", peak.Load())
	}
	if elapsed := time.Since(start); elapsed > 290*time.Millisecond {
		t.Errorf("readyz took %v; checks appear sequential", elapsed)
	}
}

func TestReadyz_TimesOutSlowCheck(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "stuck", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	code, b := get(t, h, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if b.Checks["stuck"] == "ok" {
		t.Error("stuck check reported ok")
	}
}

func TestAdd_ReplacesByName(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "doc", Check: func(context.Context) error { return errors.New("missing") }})
	h.Add(health.Checker{Name: "doc", Check: ok}, health.Checker{Name: "whisper", Check: ok})

	code, b := get(t, h, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200 after replacement (%v)", code, b.Checks)
	}
	if len(b.Checks) != 2 {
		t.Errorf("checks = %v, want 2 entries", b.Checks)
	}
}
