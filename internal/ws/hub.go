// Package ws fans device state snapshots out to dashboard clients over
// WebSocket. A hub goroutine owns the client set; per-client send
// buffers decouple broadcasting from slow consumers.
package ws

import (
	"context"
	"log/slog"

	"github.com/superdash/superdash/internal/metrics"
)

// Hub tracks connected clients and distributes broadcast frames.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	clients map[*client]struct{}
}

// NewHub creates an empty hub. Run must be called before clients attach.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		metrics:    m,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 8),
		clients:    make(map[*client]struct{}),
	}
}

// Run owns the client set until ctx is cancelled, then closes every
// remaining client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close()
			}
			h.clients = make(map[*client]struct{})
			h.metrics.SetWSClients(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.SetWSClients(len(h.clients))
			h.logger.Info("client connected",
				slog.String("remote", c.remoteAddr()),
				slog.Int("clients", len(h.clients)),
			)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
				h.metrics.SetWSClients(len(h.clients))
				h.logger.Info("client disconnected",
					slog.String("remote", c.remoteAddr()),
					slog.Int("clients", len(h.clients)),
				)
			}

		case frame := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// The client's buffer is full; it is too slow to
					// keep and would otherwise stall everyone.
					delete(h.clients, c)
					c.close()
					h.metrics.SetWSClients(len(h.clients))
					h.logger.Warn("dropping slow client",
						slog.String("remote", c.remoteAddr()),
					)
				}
			}
		}
	}
}

// Broadcast queues a frame for every connected client.
func (h *Hub) Broadcast(frame []byte) {
	h.broadcast <- frame
}
