package display_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/scrollsync/internal/display"
	"github.com/MrWong99/scrollsync/internal/document"
	"github.com/MrWong99/scrollsync/internal/follow"
	"github.com/MrWong99/scrollsync/internal/health"
	"github.com/MrWong99/scrollsync/internal/observe"
)

var lyric = []string{
	"Mudam-se os tempos, mudam-se as vontades,",
	"Muda-se o ser, muda-se a confiança;",
	"Todo o mundo é composto de mudança,",
	"Tomando sempre novas qualidades.",
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

type fixture struct {
	follower *follow.Follower
	hub      *display.Hub
	srv      *httptest.Server
}

func setup(t *testing.T, opts ...display.ServerOption) *fixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := document.New("Soneto", lyric)
	if err != nil {
		t.Fatal(err)
	}
	f, err := follow.New(doc, follow.WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	hub := display.NewHub(f, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	opts = append([]display.ServerOption{display.WithRegistry(prometheus.NewRegistry())}, opts...)
	srv := httptest.NewServer(display.NewServer(hub, m, opts...))
	t.Cleanup(srv.Close)
	return &fixture{follower: f, hub: hub, srv: srv}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func final(text string) follow.Fragment {
	return follow.Fragment{Source: "whisper", Text: text, Final: true}
}

func TestAPIDocument(t *testing.T) {
	t.Parallel()

	fx := setup(t)
	var body struct {
		Title string   `json:"title"`
		Hash  string   `json:"hash"`
		Lines []string `json:"lines"`
	}
	resp := getJSON(t, fx.srv.URL+"/api/document", &body)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	if body.Title != "Soneto" || len(body.Lines) != len(lyric) || body.Hash == "" {
		t.Errorf("document = %+v", body)
	}
}

func TestAPIPosition(t *testing.T) {
	t.Parallel()

	fx := setup(t)

	var before display.Position
	getJSON(t, fx.srv.URL+"/api/position", &before)
	if before.Line != 0 || before.Score != 0 || len(before.Visible) != len(lyric) {
		t.Errorf("initial position = %+v, want line 0 with the whole short document visible", before)
	}

	if _, ok := fx.follower.Process(context.Background(), final(lyric[8])); !ok {
		t.Fatal("Process rejected an exact line")
	}
	var after display.Position
	getJSON(t, fx.srv.URL+"/api/position", &after)
	if after.Line != 8 || after.Score != 1 || after.Source != "whisper" {
		t.Errorf("position = %+v, want line 8 score 1 from whisper", after)
	}
	if len(after.Visible) != len(lyric)-8 || after.Visible[0] != lyric[8] {
		t.Errorf("visible = %q, want the document from line 8", after.Visible)
	}
}

func dial(t *testing.T, fx *fixture) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(fx.srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) display.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var m display.Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func TestWS_InitialStateThenEvents(t *testing.T) {
	t.Parallel()

	fx := setup(t)
	c := dial(t, fx)

	if m := readMessage(t, c); m.Type != display.TypeDocument || m.Document == nil || m.Document.Lines != len(lyric) {
		t.Fatalf("first message = %+v, want document info", m)
	}
	if m := readMessage(t, c); m.Type != display.TypePosition || m.Position == nil || m.Position.Line != 0 {
		t.Fatalf("second message = %+v, want initial position", m)
	}
	if n := fx.hub.Clients(); n != 1 {
		t.Errorf("Clients() = %d, want 1", n)
	}

	fx.follower.Process(context.Background(), final(lyric[4]))
	m := readMessage(t, c)
	if m.Type != display.TypePosition || m.Position.Line != 4 {
		t.Fatalf("event message = %+v, want position line 4", m)
	}
	if m.Position.Visible[0] != lyric[4] {
		t.Errorf("visible starts with %q", m.Position.Visible[0])
	}

	// Rejected fragments never reach displays.
	fx.follower.Process(context.Background(), final("nada a ver com o poema"))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, data, err := c.Read(ctx); err == nil {
		t.Errorf("unexpected message %s", data)
	}
}

func TestWS_DocumentChanged(t *testing.T) {
	t.Parallel()

	fx := setup(t)
	c := dial(t, fx)
	readMessage(t, c)
	readMessage(t, c)

	doc, _ := document.New("Outro", []string{"uma linha só"})
	fx.follower.SetDocument(doc)
	fx.hub.DocumentChanged(doc)

	m := readMessage(t, c)
	if m.Type != display.TypeDocument || m.Document.Title != "Outro" || m.Document.Hash != doc.Hash {
		t.Errorf("message = %+v, want new document info", m)
	}
	m = readMessage(t, c)
	if m.Type != display.TypePosition || m.Position.Line != 0 || len(m.Position.Visible) != 1 {
		t.Errorf("message = %+v, want reset position", m)
	}
}

func TestWS_ClientCountDropsOnDisconnect(t *testing.T) {
	t.Parallel()

	fx := setup(t)
	c := dial(t, fx)
	readMessage(t, c)
	readMessage(t, c)
	c.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for fx.hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d after disconnect", fx.hub.Clients())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()

	fx := setup(t)
	resp, err := http.Get(fx.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<title>scrollsync</title>") {
		t.Errorf("GET / = %d, body %q", resp.StatusCode, body)
	}

	resp, err = http.Get(fx.srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", resp.StatusCode)
	}
}

func TestOperationalRoutes(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "document", Check: func(context.Context) error { return nil }})
	fx := setup(t, display.WithHealth(h))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(fx.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	fx := setup(t)
	srv := display.NewServer(fx.hub, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
