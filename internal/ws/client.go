package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before the read
	// deadline trips; pings go out well inside it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound dashboard requests.
	maxMessageSize = 4096
	// sendBuffer is the per-client frame queue; overflow drops the client.
	sendBuffer = 32
)

// client is one dashboard connection. The hub owns registration; the
// read and write pumps own the connection.
type client struct {
	hub    *Hub
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

func (c *client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *client) close() {
	c.conn.Close()
}

// inbound is the envelope of every dashboard request.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// readPump consumes dashboard requests until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", slog.String("error", err.Error()))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed requests never terminate the connection.
			c.logger.Warn("ignoring malformed message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "getConfig":
			frame, err := c.server.configFrame()
			if err != nil {
				c.logger.Error("encoding config reply", slog.String("error", err.Error()))
				continue
			}
			c.trySend(frame)

		case "updateSettings":
			// Settings are file-managed; the dashboard's edit surface is
			// acknowledged in the log only.
			c.logger.Info("ignoring updateSettings request",
				slog.String("remote", c.remoteAddr()),
			)

		default:
			c.logger.Debug("ignoring unknown message type", slog.String("type", msg.Type))
		}
	}
}

// trySend queues a frame for this client only, dropping it when the
// buffer is full; the broadcast path handles the disconnect.
func (c *client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

// writePump drains the send queue and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
