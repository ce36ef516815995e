package casparcg

import (
	"context"
	"log/slog"
	"math"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/superdash/superdash/internal/device"
	"github.com/superdash/superdash/pkg/timecode"
)

// DefaultStaleTimeout disconnects a device that has pushed no OSC
// traffic for this long.
const DefaultStaleTimeout = 5 * time.Second

const staleCheckInterval = time.Second

// Client follows one channel/layer of one CasparCG server. It never
// opens a socket itself; the shared Listener feeds it messages.
type Client struct {
	cfg          device.Config
	events       chan<- device.Event
	logger       *slog.Logger
	listener     *Listener
	staleTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OSC-fed cache, guarded by mu: the listener goroutine writes,
	// the stale checker reads.
	mu             sync.Mutex
	filePath       string
	timeSeconds    float64
	frame          int64
	fps            float64
	paused         bool
	foregroundFile string
	connected      bool
	lastMessage    time.Time
	lastEmitted    device.StateEvent
	hasEmitted     bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a CasparCG client for the given device.
func New(cfg device.Config, listener *Listener, staleTimeout time.Duration, events chan<- device.Event, logger *slog.Logger) *Client {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &Client{
		cfg:    cfg,
		events: events,
		logger: logger.With(
			slog.Int("device_id", cfg.ID),
			slog.String("device", cfg.Name),
			slog.Int("channel", cfg.Channel),
			slog.Int("layer", cfg.Layer),
		),
		listener:     listener,
		staleTimeout: staleTimeout,
	}
}

// Start registers the client with the shared listener and launches the
// stale checker. A listener bind failure is returned; the client stays
// stopped.
func (c *Client) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() {
		err = c.listener.Register(c.cfg.IP, c.cfg.Channel, c.cfg.Layer, c)
		if err != nil {
			return
		}
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.wg.Add(1)
		go c.staleLoop(runCtx)
	})
	return err
}

// Stop unregisters from the listener and halts the stale checker. Safe
// to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.listener.Unregister(c.cfg.IP, c.cfg.Channel, c.cfg.Layer)
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

// handleMessage caches one field from an OSC message. The first message
// from the configured source flips the device to connected.
func (c *Client) handleMessage(suffix string, args []any) {
	c.mu.Lock()

	c.lastMessage = time.Now()
	wasConnected := c.connected
	c.connected = true

	switch suffix {
	case "/file/path":
		if s, ok := argString(args); ok {
			c.filePath = s
		}
	case "/file/time":
		// Two arguments: elapsed and total seconds; elapsed drives the
		// timecode.
		if f, ok := argFloat(args); ok {
			c.timeSeconds = f
		}
	case "/file/frame":
		if n, ok := argInt(args); ok {
			c.frame = n
		}
	case "/file/fps":
		if f, ok := argFloat(args); ok && f > 0 && f < 120 {
			c.fps = f
		}
	case "/paused":
		if n, ok := argInt(args); ok {
			c.paused = n == 1
		} else if b, ok := argBool(args); ok {
			c.paused = b
		}
	case "/foreground/file/name":
		if s, ok := argString(args); ok {
			c.foregroundFile = s
		}
	}
	c.mu.Unlock()

	if !wasConnected {
		c.logger.Info("connected")
		c.events <- device.ConnectionEvent{ID: c.cfg.ID, Connected: true}
	}
}

// flush emits the normalised state assembled from the last packet, if
// it differs from the previous emission.
func (c *Client) flush() {
	c.mu.Lock()
	ev := c.normalizeLocked()
	changed := !c.hasEmitted || ev != c.lastEmitted
	if changed {
		c.lastEmitted = ev
		c.hasEmitted = true
	}
	c.mu.Unlock()

	if changed {
		c.events <- ev
	}
}

// normalizeLocked maps the cached OSC fields to a state event. Callers
// hold mu. CasparCG only plays, so rec is never produced.
func (c *Client) normalizeLocked() device.StateEvent {
	file := c.filePath
	if file == "" {
		file = c.foregroundFile
	}

	state := device.StateStop
	if file != "" && !c.paused {
		state = device.StatePlay
	}

	fps := c.fps
	if fps <= 0 {
		fps = c.cfg.Framerate
	}
	frame := c.frame
	if frame == 0 && c.timeSeconds > 0 {
		frame = int64(math.Floor(c.timeSeconds * fps))
	}

	return device.StateEvent{
		ID:       c.cfg.ID,
		State:    state,
		Timecode: timecode.FromFrames(frame, fps),
		Filename: basename(file),
	}
}

// staleLoop disconnects the device when no OSC message has arrived
// within the stale timeout.
func (c *Client) staleLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.connected && time.Since(c.lastMessage) > c.staleTimeout
			if stale {
				c.connected = false
			}
			c.mu.Unlock()

			if stale {
				c.logger.Info("stale, disconnecting",
					slog.Duration("timeout", c.staleTimeout),
				)
				c.events <- device.ConnectionEvent{ID: c.cfg.ID, Connected: false}
			}
		}
	}
}

// basename strips any path prefix, tolerating both separators.
func basename(file string) string {
	if file == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(file, "\\", "/"))
}

// Argument coercion. CasparCG sends strings and float32s; some proxies
// re-encode numerics as int32 or wrap booleans, so each accessor
// accepts the equivalent forms.

func argString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

func argFloat(args []any) (float64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	switch v := args[0].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func argInt(args []any) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	switch v := args[0].(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func argBool(args []any) (bool, bool) {
	if len(args) == 0 {
		return false, false
	}
	b, ok := args[0].(bool)
	return b, ok
}
