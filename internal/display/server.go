package display

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/scrollsync/internal/health"
	"github.com/MrWong99/scrollsync/internal/observe"
)

//go:embed static/index.html
var static embed.FS

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithRegistry serves /metrics from reg instead of the global Prometheus
// registry.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) { s.registry = reg }
}

// WithHealth mounts h on /healthz and /readyz. Without it both routes are
// served by a handler with no readiness checks.
func WithHealth(h *health.Handler) ServerOption {
	return func(s *Server) {
		if h != nil {
			s.health = h
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching the given patterns. Same-origin is always allowed.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) { s.origins = patterns }
}

// Server is the display HTTP server.
//
//	GET /              display page
//	GET /api/document  current document as JSON
//	GET /api/position  current position as JSON
//	GET /ws            WebSocket stream of [Message]s
//	GET /healthz       liveness
//	GET /readyz        readiness
//	GET /metrics       Prometheus metrics
type Server struct {
	hub      *Hub
	metrics  *observe.Metrics
	registry *prometheus.Registry
	health   *health.Handler
	origins  []string

	handler http.Handler
}

// NewServer builds the routes. A nil metrics uses [observe.DefaultMetrics].
func NewServer(hub *Hub, metrics *observe.Metrics, opts ...ServerOption) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Server{hub: hub, metrics: metrics, health: health.New()}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/document", s.handleDocument)
	mux.HandleFunc("GET /api/position", s.handlePosition)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", observe.MetricsHandler(s.registry))
	s.health.Register(mux)

	s.handler = observe.Middleware(metrics)(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. Open WebSocket connections end with the base context.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	slog.Info("display server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, static, "static/index.html")
}

// documentResponse is the /api/document body.
type documentResponse struct {
	Title  string   `json:"title"`
	Author string   `json:"author,omitempty"`
	Hash   string   `json:"hash"`
	Lines  []string `json:"lines"`
}

func (s *Server) handleDocument(w http.ResponseWriter, _ *http.Request) {
	doc := s.hub.tracker.Document()
	writeJSON(w, documentResponse{Title: doc.Title, Author: doc.Author, Hash: doc.Hash, Lines: doc.Lines})
}

func (s *Server) handlePosition(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.hub.Current())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("display: websocket accept", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	slog.Debug("display: client connected", "remote", r.RemoteAddr)
	err = s.hub.serve(r.Context(), conn)
	switch {
	case errors.Is(err, context.Canceled),
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		slog.Debug("display: client disconnected", "remote", r.RemoteAddr)
	default:
		slog.Info("display: client dropped", "remote", r.RemoteAddr, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("display: encode response", "err", err)
	}
}
