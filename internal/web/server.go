// Package web provides the HTTP status server for the automation daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/status"
)

// DefaultWSInterval is how often live status is pushed to websocket clients.
const DefaultWSInterval = 5 * time.Second

// Options configures optional endpoints.
type Options struct {
	// Metrics is mounted at /metrics when non-nil.
	Metrics    http.Handler
	WSInterval time.Duration
	Logger     *zap.Logger
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	log        *zap.Logger
	interval   time.Duration
	upgrader   websocket.Upgrader

	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]struct{}
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WSInterval <= 0 {
		opts.WSInterval = DefaultWSInterval
	}
	s := &Server{
		tracker:   tracker,
		log:       opts.Logger.Named("web"),
		interval:  opts.WSInterval,
		wsClients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The page is served from the same daemon on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWS)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and closes live clients.
// Hijacked websocket connections are not tracked by http.Server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsMu.Lock()
	for c := range s.wsClients {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		c.Close()
	}
	s.wsClients = make(map[*websocket.Conn]struct{})
	s.wsMu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsClients)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warn("render index", zap.Error(err))
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleWS pushes the JSON status immediately and then every interval
// until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.wsMu.Lock()
	s.wsClients[conn] = struct{}{}
	n := len(s.wsClients)
	s.wsMu.Unlock()
	s.log.Debug("websocket client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", n))

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		conn.Close()
	}()

	// Reader: we only care about close frames and errors.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, status.FormatJSON(s.tracker.Snapshot())); err != nil {
			return
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
