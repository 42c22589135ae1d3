package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"spreadwatch/internal/config"
	"spreadwatch/internal/database"
	"spreadwatch/internal/merge"
	"spreadwatch/internal/model"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// Source provides the canonical universe and merged sessions.
type Source interface {
	Symbols() []string
	States() []model.VenueState
	Open(ctx context.Context, symbols []string) *merge.Session
}

// Health is the /health response body.
type Health struct {
	Status  string             `json:"status"`
	Symbols int                `json:"symbols"`
	Clients int                `json:"clients"`
	Venues  []model.VenueState `json:"venues"`
}

type client struct {
	conn    *websocket.Conn
	session *merge.Session
}

// Server exposes the canonical symbol list and one merged price stream per
// WebSocket client.
type Server struct {
	logger     *slog.Logger
	cfg        config.ServerConfig
	source     Source
	alerts     database.Repository
	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu      sync.Mutex
	clients map[string]*client
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server. alerts may be nil, which disables /alerts.
func New(logger *slog.Logger, cfg config.ServerConfig, source Source, alerts database.Repository) *Server {
	s := &Server{
		logger: logger,
		cfg:    cfg,
		source: source,
		alerts: alerts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /symbols", s.handleSymbols)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Server: starting HTTP server", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Server: HTTP server error", "error", err)
		return err
	}
	return nil
}

// Shutdown stops accepting connections, ends every client session and waits
// for their writers, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Server: shutting down")

	s.mu.Lock()
	s.closing = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)

	for _, c := range clients {
		c.session.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
		s.mu.Lock()
		for _, c := range s.clients {
			err = multierr.Append(err, c.conn.Close())
		}
		s.mu.Unlock()
	}

	if err != nil {
		s.logger.Error("Server: shutdown error", "error", err)
		return err
	}
	s.logger.Info("Server: shut down successfully", "clients", len(clients))
	return nil
}

// Clients returns the number of connected stream clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Symbols())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := s.source.States()
	connected := 0
	for _, st := range states {
		if st.Connected {
			connected++
		}
	}

	h := Health{
		Status:  "ok",
		Symbols: len(s.source.Symbols()),
		Clients: s.Clients(),
		Venues:  states,
	}
	code := http.StatusOK
	switch {
	case connected == 0:
		h.Status = "unavailable"
		code = http.StatusServiceUnavailable
	case connected < len(states):
		h.Status = "degraded"
	}
	writeJSON(w, code, h)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		http.Error(w, "alerts are not enabled", http.StatusNotFound)
		return
	}

	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAlertLimit)
	}

	alerts, err := s.alerts.RecentSpreadAlerts(r.Context(), r.URL.Query().Get("symbol"), limit)
	if err != nil {
		s.logger.Error("Server: failed to load alerts", "error", err)
		http.Error(w, "failed to load alerts", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []model.SpreadAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleWS streams merged updates for every canonical symbol, or for the
// comma separated "symbols" query parameter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	symbols := s.source.Symbols()
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		symbols = strings.Split(raw, ",")
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Server: WebSocket upgrade failed", "error", err)
		return
	}

	session := s.source.Open(context.WithoutCancel(r.Context()), symbols)
	c := &client{conn: conn, session: session}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		session.Close()
		conn.Close()
		return
	}
	s.clients[session.ID] = c
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Server: client connected", "session", session.ID, "remote", r.RemoteAddr, "streams", session.Streams())
	go s.readLoop(c)
	go s.writeLoop(c)
}

// readLoop discards client messages and ends the session when the client goes away.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.session.Close()
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.session.ID)
		s.mu.Unlock()
		c.conn.Close()
		s.logger.Info("Server: client disconnected", "session", c.session.ID)
	}()

	for u := range c.session.C {
		err := c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err == nil {
			err = c.conn.WriteJSON(u)
		}
		if err != nil {
			s.logger.Warn("Server: failed to write update", "session", c.session.ID, "error", err)
			c.session.Close()
			return
		}
	}

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
		time.Now().Add(time.Second),
	)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
