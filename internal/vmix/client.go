// Package vmix polls a vMix instance's HTTP API and normalises its
// recording flag and active input into device events.
package vmix

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/superdash/superdash/internal/device"
	"github.com/superdash/superdash/pkg/httpclient"
	"github.com/superdash/superdash/pkg/ticker"
	"github.com/superdash/superdash/pkg/timecode"
)

const (
	// DefaultPollInterval is the poll period when none is configured.
	DefaultPollInterval = 500 * time.Millisecond

	requestTimeout = 2 * time.Second

	// failureThreshold is the number of consecutive poll failures
	// before the device is declared disconnected.
	failureThreshold = 3
)

// Client polls one vMix instance. Polling is drift-free: each poll
// fires on an absolute multiple of the interval, so the average period
// is exactly the interval regardless of request duration.
type Client struct {
	cfg          device.Config
	events       chan<- device.Event
	logger       *slog.Logger
	http         *httpclient.Client
	pollInterval time.Duration
	url          string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Poll-loop state; touched only from the run goroutine.
	failures  int
	connected bool
	lastGood  device.StateEvent
	hasLast   bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a vMix client for the given device.
func New(cfg device.Config, pollInterval time.Duration, events chan<- device.Event, logger *slog.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	logger = logger.With(slog.Int("device_id", cfg.ID), slog.String("device", cfg.Name))
	return &Client{
		cfg:    cfg,
		events: events,
		logger: logger,
		http: httpclient.New(httpclient.Config{
			Timeout: requestTimeout,
			Logger:  logger,
		}),
		pollInterval: pollInterval,
		url:          fmt.Sprintf("http://%s/api", cfg.Addr()),
	}
}

// Start launches the poll loop. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.wg.Add(1)
		go c.run(runCtx)
	})
}

// Stop halts polling and waits for the loop to exit. Safe to call more
// than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	t := ticker.New(c.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			c.poll(ctx)
		}
	}
}

func (c *Client) poll(ctx context.Context) {
	snap, err := c.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.handleFailure(err)
		return
	}

	c.failures = 0
	if !c.connected {
		c.connected = true
		c.logger.Info("connected", slog.String("url", c.url))
		c.events <- device.ConnectionEvent{ID: c.cfg.ID, Connected: true}
	}

	ev := c.normalize(snap)
	c.lastGood = ev
	c.hasLast = true
	c.events <- ev
}

func (c *Client) fetch(ctx context.Context) (*snapshot, error) {
	resp, err := c.http.Get(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("vmix request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("vmix request: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vmix response: %w", err)
	}
	return parseAPI(string(body))
}

// handleFailure counts one failure toward the disconnect threshold.
// While still connected and under the threshold, the last good state is
// re-emitted so a single dropped poll does not flicker the dashboard.
func (c *Client) handleFailure(err error) {
	c.failures++
	c.logger.Warn("poll failed",
		slog.Int("consecutive", c.failures),
		slog.String("error", err.Error()),
	)
	c.events <- device.ErrorEvent{ID: c.cfg.ID, Err: err}

	if c.failures == failureThreshold && c.connected {
		c.connected = false
		c.logger.Info("disconnected", slog.Int("failures", c.failures))
		c.events <- device.ConnectionEvent{ID: c.cfg.ID, Connected: false}
		return
	}
	if c.failures < failureThreshold && c.connected && c.hasLast {
		c.events <- c.lastGood
	}
}

// normalize maps a vMix snapshot to a device state event. Recording
// wins over the active input; a recording session with no running
// input still reports as recording.
func (c *Client) normalize(snap *snapshot) device.StateEvent {
	ev := device.StateEvent{
		ID:       c.cfg.ID,
		Timecode: timecode.FromMilliseconds(snap.DurationMs, c.cfg.Framerate),
	}

	switch {
	case snap.Recording:
		ev.State = device.StateRec
		ev.Filename = snap.ActiveInputTitle
		if ev.Filename == "" {
			ev.Filename = "Recording"
		}
	case strings.EqualFold(snap.ActiveInputState, "Running"):
		ev.State = device.StatePlay
		ev.Filename = snap.ActiveInputTitle
	case strings.EqualFold(snap.ActiveInputState, "Paused"):
		ev.State = device.StateStop
		ev.Filename = snap.ActiveInputTitle
	default:
		ev.State = device.StateStop
	}
	return ev
}
