// Package display pushes the reader's position to browsers.
//
// A [Hub] subscribes to a follower and fans every scroll event out to the
// connected WebSocket clients as a JSON [Message]; [Server] wires the hub,
// the JSON API, the page and the operational endpoints onto one mux.
package display

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scrollsync/internal/document"
	"github.com/MrWong99/scrollsync/internal/follow"
	"github.com/MrWong99/scrollsync/internal/observe"
)

const (
	// clientBuffer is how many messages may queue for one client before it
	// is disconnected as too slow.
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// Message types sent to clients.
const (
	TypePosition = "position"
	TypeDocument = "document"
)

// Position is what a display needs to render: the current line and the
// lines visible from it.
type Position struct {
	Line    int       `json:"line"`
	Score   float64   `json:"score"`
	Source  string    `json:"source,omitempty"`
	Text    string    `json:"text,omitempty"`
	At      time.Time `json:"at,omitzero"`
	Visible []string  `json:"visible"`
}

// DocumentInfo summarizes a document version without its text.
type DocumentInfo struct {
	Title string `json:"title"`
	Lines int    `json:"lines"`
	Hash  string `json:"hash"`
}

// Message is one WebSocket frame. Exactly one of Position and Document is
// set, matching Type.
type Message struct {
	Type     string        `json:"type"`
	Position *Position     `json:"position,omitempty"`
	Document *DocumentInfo `json:"document,omitempty"`
}

// Tracker is the part of a follower the hub reads.
type Tracker interface {
	Document() *document.Document
	Position() (follow.Event, bool)
	Subscribe() (<-chan follow.Event, func())
}

// Hub broadcasts positions to WebSocket clients.
type Hub struct {
	tracker     Tracker
	metrics     *observe.Metrics
	events      <-chan follow.Event
	unsubscribe func()

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	msgs      chan []byte
	closeSlow func()
}

// NewHub returns a hub subscribed to tracker. Events are delivered to
// clients once [Hub.Run] is running. A nil metrics uses
// [observe.DefaultMetrics].
func NewHub(tracker Tracker, metrics *observe.Metrics) *Hub {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	events, unsubscribe := tracker.Subscribe()
	return &Hub{
		tracker:     tracker,
		metrics:     metrics,
		events:      events,
		unsubscribe: unsubscribe,
		clients:     make(map[*client]struct{}),
	}
}

// Current returns the position a newly connected display should show.
// Before the first accepted match that is the top of the document.
func (h *Hub) Current() Position {
	doc := h.tracker.Document()
	ev, ok := h.tracker.Position()
	if !ok {
		return Position{Visible: doc.Visible(0, document.VisibleLines)}
	}
	return positionFor(doc, ev)
}

func positionFor(doc *document.Document, ev follow.Event) Position {
	return Position{
		Line:    ev.Line,
		Score:   ev.Score,
		Source:  ev.Source,
		Text:    ev.Text,
		At:      ev.At,
		Visible: doc.Visible(ev.Line, document.VisibleLines),
	}
}

// Run forwards follower events to clients until ctx is cancelled, then
// unsubscribes. A hub is run once.
func (h *Hub) Run(ctx context.Context) error {
	defer h.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-h.events:
			if !ok {
				return nil
			}
			p := positionFor(h.tracker.Document(), ev)
			h.broadcast(Message{Type: TypePosition, Position: &p})
		}
	}
}

// DocumentChanged tells clients to reload the document. The position
// resets to the top.
func (h *Hub) DocumentChanged(doc *document.Document) {
	h.broadcast(Message{Type: TypeDocument, Document: infoFor(doc)})
	p := Position{Visible: doc.Visible(0, document.VisibleLines)}
	h.broadcast(Message{Type: TypePosition, Position: &p})
}

func infoFor(doc *document.Document) *DocumentInfo {
	return &DocumentInfo{Title: doc.Title, Lines: doc.Len(), Hash: doc.Hash}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("display: marshal message", "type", m.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.msgs <- data:
		default:
			go c.closeSlow()
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.DisplayClients.Add(context.Background(), 1)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.metrics.DisplayClients.Add(context.Background(), -1)
}

// serve runs one client connection: the current document and position are
// sent first, then every broadcast until the client goes away.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn) error {
	c := &client{
		msgs: make(chan []byte, clientBuffer),
		closeSlow: func() {
			conn.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
		},
	}
	h.add(c)
	defer h.remove(c)

	// Displays never send; CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx = conn.CloseRead(ctx)

	cur := h.Current()
	for _, m := range []Message{
		{Type: TypeDocument, Document: infoFor(h.tracker.Document())},
		{Type: TypePosition, Position: &cur},
	} {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := write(ctx, conn, data); err != nil {
			return err
		}
	}

	for {
		select {
		case data := <-c.msgs:
			if err := write(ctx, conn, data); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
