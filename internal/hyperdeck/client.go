// Package hyperdeck maintains a persistent TCP connection to a
// Blackmagic HyperDeck and normalises its transport status, timecode
// and current clip into device events.
package hyperdeck

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/superdash/superdash/internal/device"
)

const (
	connectTimeout = 5 * time.Second
	settleDelay    = 100 * time.Millisecond
	pollInterval   = 2 * time.Second

	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Client owns one HyperDeck connection. It reconnects internally with
// exponential backoff and is never recreated for the life of the
// process.
type Client struct {
	cfg    device.Config
	events chan<- device.Event
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   net.Conn

	// Session state, reset on every new connection. Guarded by mu.
	mu          sync.Mutex
	state       device.State
	timecode    string
	filename    string
	activeSlot  int
	pendingSlot bool
	lastEmitted device.StateEvent
	hasEmitted  bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a HyperDeck client for the given device. Events are
// posted to the aggregator's channel.
func New(cfg device.Config, events chan<- device.Event, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		events: events,
		logger: logger.With(slog.Int("device_id", cfg.ID), slog.String("device", cfg.Name)),
	}
}

// Start launches the connection loop. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.wg.Add(1)
		go c.run(runCtx)
	})
}

// Stop disconnects intentionally: it cancels any pending reconnect
// timer, closes the current connection, and waits for the loop to
// exit. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.closeConn()
		c.wg.Wait()
	})
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	delay := initialReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		dialer := net.Dialer{Timeout: connectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("connect failed",
				slog.String("addr", c.cfg.Addr()),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			c.events <- device.ErrorEvent{ID: c.cfg.ID, Err: fmt.Errorf("hyperdeck connect: %w", err)}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = nextReconnectDelay(delay)
			continue
		}

		delay = initialReconnectDelay
		c.handleConnection(ctx, conn)

		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = nextReconnectDelay(delay)
	}
}

// nextReconnectDelay doubles the backoff up to the cap, yielding the
// sequence 1, 2, 4, 8, 16, 30, 30, ... seconds.
func nextReconnectDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

func (c *Client) handleConnection(ctx context.Context, conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.resetSession()
	c.logger.Info("connected", slog.String("addr", c.cfg.Addr()))
	c.events <- device.ConnectionEvent{ID: c.cfg.ID, Connected: true}

	connDone := make(chan struct{})
	defer func() {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		c.events <- device.ConnectionEvent{ID: c.cfg.ID, Connected: false}
		c.logger.Info("disconnected")
	}()

	// Unblock the read loop when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-connDone:
		}
	}()

	go c.subscribeAndPoll(ctx, conn, connDone)

	c.readLoop(conn)
	close(connDone)
}

// resetSession clears per-connection state so the first transport info
// after a reconnect always emits.
func (c *Client) resetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = device.StateStop
	c.timecode = ""
	c.filename = ""
	c.activeSlot = 0
	c.pendingSlot = false
	c.lastEmitted = device.StateEvent{}
	c.hasEmitted = false
}

// subscribeAndPoll waits for the device banner to settle, subscribes
// to transport and slot notifications, then polls every two seconds as
// a safety net against missed notifications.
func (c *Client) subscribeAndPoll(ctx context.Context, conn net.Conn, connDone <-chan struct{}) {
	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return
	case <-connDone:
		return
	}

	c.send(conn, "notify: transport: true")
	c.send(conn, "notify: slot: true")
	c.send(conn, "transport info")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-connDone:
			return
		case <-ticker.C:
			c.send(conn, "transport info")
			c.mu.Lock()
			slot := c.activeSlot
			c.mu.Unlock()
			if slot > 0 {
				c.send(conn, fmt.Sprintf("slot info: slot id: %d", slot))
			}
		}
	}
}

func (c *Client) send(conn net.Conn, cmd string) {
	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		c.logger.Debug("send failed", slog.String("cmd", cmd), slog.String("error", err.Error()))
	}
}

func (c *Client) readLoop(conn net.Conn) {
	var p parser
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if resp, done := p.feed(line); done {
				c.handleResponse(conn, resp)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("read failed", slog.String("error", err.Error()))
				c.events <- device.ErrorEvent{ID: c.cfg.ID, Err: fmt.Errorf("hyperdeck read: %w", err)}
			}
			return
		}
	}
}

func (c *Client) handleResponse(conn net.Conn, resp *response) {
	switch {
	case resp.isTransportInfo():
		c.handleTransportInfo(conn, resp.fields)
	case resp.isSlotInfo():
		c.handleSlotInfo(resp.fields)
	case resp.isError():
		c.logger.Warn("device reported error",
			slog.Int("code", resp.code),
			slog.String("message", resp.name),
		)
		// A failed slot query must not hold state emission forever.
		c.mu.Lock()
		held := c.pendingSlot
		c.pendingSlot = false
		var (
			ev      device.StateEvent
			changed bool
		)
		if held {
			ev, changed = c.pendingEventLocked()
		}
		c.mu.Unlock()
		if changed {
			c.events <- ev
		}
	default:
		c.logger.Debug("ignoring response",
			slog.Int("code", resp.code),
			slog.String("name", resp.name),
		)
	}
}

func (c *Client) handleTransportInfo(conn net.Conn, fields map[string]string) {
	c.mu.Lock()

	if status, ok := fields["status"]; ok {
		c.state = mapStatus(status)
	}

	raw := fields["display_timecode"]
	if raw == "" {
		raw = fields["timecode"]
	}
	if raw != "" {
		tc, ok := normalizeTimecode(raw)
		if !ok {
			c.logger.Warn("unexpected timecode format", slog.String("timecode", raw))
		}
		c.timecode = tc
	}

	slotChanged := false
	newSlot := 0
	if rawSlot, ok := fields["active_slot"]; ok {
		if slot, err := strconv.Atoi(rawSlot); err == nil && slot != c.activeSlot {
			c.activeSlot = slot
			newSlot = slot
			slotChanged = true
		}
	}

	var (
		ev      device.StateEvent
		changed bool
	)
	if slotChanged {
		// Hold emission until the slot response supplies the clip
		// name, so a slot switch produces one complete event.
		c.pendingSlot = true
	}
	if !c.pendingSlot {
		ev, changed = c.pendingEventLocked()
	}
	c.mu.Unlock()

	if slotChanged {
		c.send(conn, fmt.Sprintf("slot info: slot id: %d", newSlot))
	}
	if changed {
		c.events <- ev
	}
}

func (c *Client) handleSlotInfo(fields map[string]string) {
	c.mu.Lock()
	if name, ok := fields["clip_name"]; ok {
		c.filename = name
	}
	c.pendingSlot = false
	ev, changed := c.pendingEventLocked()
	c.mu.Unlock()

	if changed {
		c.events <- ev
	}
}

// pendingEventLocked builds the current state event and reports
// whether it differs from the last one emitted. Callers hold mu.
func (c *Client) pendingEventLocked() (device.StateEvent, bool) {
	ev := device.StateEvent{
		ID:       c.cfg.ID,
		State:    c.state,
		Timecode: c.timecode,
		Filename: c.filename,
	}
	if c.hasEmitted && ev == c.lastEmitted {
		return ev, false
	}
	c.lastEmitted = ev
	c.hasEmitted = true
	return ev, true
}
