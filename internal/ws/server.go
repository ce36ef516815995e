package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/superdash/superdash/internal/aggregator"
	"github.com/superdash/superdash/internal/config"
	"github.com/superdash/superdash/internal/device"
	"github.com/superdash/superdash/internal/metrics"
	"github.com/superdash/superdash/pkg/ticker"
)

// StateSource supplies the broadcast payload. Uptime is the monotonic
// millisecond reference the snapshot's Updated stamps are measured
// against.
type StateSource interface {
	Snapshot() []device.Status
	ProtocolStatus() aggregator.ProtocolStatus
	Uptime() int64
}

// Server owns the dedicated WebSocket listener and the snapshot
// broadcaster.
type Server struct {
	cfg     *config.Config
	source  StateSource
	hub     *Hub
	metrics *metrics.Metrics
	logger  *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewServer wires the hub, the state source, and the config used for
// getConfig replies.
func NewServer(cfg *config.Config, source StateSource, hub *Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		source:  source,
		hub:     hub,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from arbitrary origins on closed
			// production networks.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start binds the WebSocket port and runs the accept loop and the
// broadcaster until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(s.cfg.Settings.WebSocketPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/", s.handleUpgrade)

	server := &http.Server{Handler: mux}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	go s.broadcastLoop(ctx)

	s.logger.Info("websocket server started", slog.String("addr", listener.Addr().String()))
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: serve: %w", err)
	}
	return nil
}

// Addr returns the bound address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	c := &client{
		hub:    s.hub,
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: s.logger,
	}
	s.hub.register <- c

	// The new client gets the current state immediately instead of
	// waiting out the first broadcast interval.
	if frame, _, err := s.stateFrame(); err == nil {
		c.trySend(frame)
	}

	go c.writePump()
	go c.readPump()
}

// broadcastLoop serialises one snapshot per tick and fans it out. The
// drift-free ticker keeps the dashboard period exact regardless of
// encoding time.
func (s *Server) broadcastLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Settings.UpdateIntervalMs) * time.Millisecond
	tick := ticker.New(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C():
			frame, protocols, err := s.stateFrame()
			if err != nil {
				s.logger.Error("encoding broadcast", slog.String("error", err.Error()))
				continue
			}
			s.hub.Broadcast(frame)
			s.metrics.BroadcastSent()
			s.metrics.SetEmberConsumers(protocols.Ember.Consumers)
		}
	}
}

// statePayload is the periodic dashboard frame. The timestamp is
// monotonic milliseconds from the state source, comparable with each
// device's Updated stamp.
type statePayload struct {
	Type      string                    `json:"type"`
	Timestamp int64                     `json:"timestamp"`
	Data      []device.Status           `json:"data"`
	Protocols aggregator.ProtocolStatus `json:"protocols"`
}

// stateFrame serialises the current snapshot once for all clients.
func (s *Server) stateFrame() ([]byte, aggregator.ProtocolStatus, error) {
	protocols := s.source.ProtocolStatus()
	frame, err := json.Marshal(statePayload{
		Type:      "playoutStates",
		Timestamp: s.source.Uptime(),
		Data:      s.source.Snapshot(),
		Protocols: protocols,
	})
	return frame, protocols, err
}

// configPayload answers getConfig requests.
type configPayload struct {
	Type string         `json:"type"`
	Data *config.Config `json:"data"`
}

func (s *Server) configFrame() ([]byte, error) {
	return json.Marshal(configPayload{Type: "config", Data: s.cfg})
}
