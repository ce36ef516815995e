package emberplus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/superdash/superdash/internal/device"
)

// Config holds the provider's listen settings.
type Config struct {
	// Host is the bind interface; empty binds all interfaces.
	Host string
	// Port is the TCP listen port.
	Port int
	// Version is reported on the Info/Version parameter.
	Version string
}

// Provider serves the monitoring tree over Ember+. The tree is built
// once at Start; afterwards only parameter values change. Consumer
// writes are rejected.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	tree      *tree
	listener  net.Listener
	consumers map[*consumer]struct{}
	running   bool
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// consumer is one connected Ember+ client.
type consumer struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *consumer) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}

// NewProvider creates a provider. Nothing is bound until Start.
func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	return &Provider{
		cfg:       cfg,
		logger:    logger,
		consumers: make(map[*consumer]struct{}),
	}
}

// Start builds the tree for the configured devices and opens the TCP
// listener. Idempotent: a running provider stays as it is. A bind
// failure is returned and leaves the provider stopped.
func (p *Provider) Start(ctx context.Context, devices []device.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("emberplus: listen %s: %w", addr, err)
	}

	p.tree = buildTree(p.cfg.Version, devices)
	p.listener = listener
	p.running = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.acceptLoop(runCtx, listener)

	p.logger.Info("ember+ provider started",
		slog.String("addr", listener.Addr().String()),
		slog.Int("devices", len(devices)),
	)
	return nil
}

// Stop closes the listener and all consumer connections. Idempotent.
func (p *Provider) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	listener := p.listener
	p.listener = nil
	cancel := p.cancel
	for c := range p.consumers {
		c.conn.Close()
	}
	p.consumers = make(map[*consumer]struct{})
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		listener.Close()
	}
	p.wg.Wait()
	p.logger.Info("ember+ provider stopped")
}

// Addr returns the bound listener address, or empty while stopped.
func (p *Provider) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Status describes the provider for the dashboard protocols payload.
type Status struct {
	Enabled   bool `json:"enabled"`
	Running   bool `json:"running"`
	Port      int  `json:"port"`
	Consumers int  `json:"consumers"`
}

// Status reports the provider state.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Enabled:   true,
		Running:   p.running,
		Port:      p.cfg.Port,
		Consumers: len(p.consumers),
	}
}

// UpdateDevice applies a device status to the tree, pushing one value
// update per changed parameter. Unknown ids are ignored; they can
// arrive before Start has built the tree.
func (p *Provider) UpdateDevice(id int, st *device.Status) {
	p.mu.Lock()
	if p.tree == nil {
		p.mu.Unlock()
		return
	}
	params := p.tree.devices[id]
	if params == nil {
		p.mu.Unlock()
		return
	}

	type push struct {
		path  []int
		param *Parameter
	}
	var changed []push

	// Unknown state strings map to offline via EnumIndex.
	stateValue := int64(st.State.EnumIndex())
	if params.state.Value != stateValue {
		params.state.Value = stateValue
		changed = append(changed, push{appendPath(params.path, paramState), params.state})
	}
	if params.timecode.Value != st.Timecode {
		params.timecode.Value = st.Timecode
		changed = append(changed, push{appendPath(params.path, paramTimecode), params.timecode})
	}
	if params.filename.Value != st.Filename {
		params.filename.Value = st.Filename
		changed = append(changed, push{appendPath(params.path, paramFilename), params.filename})
	}
	if params.connected.Value != st.Connected {
		params.connected.Value = st.Connected
		changed = append(changed, push{appendPath(params.path, paramConnected), params.connected})
	}
	p.mu.Unlock()

	for _, c := range changed {
		p.pushUpdate(c.path, c.param)
	}
}

// UpdateDeviceCount updates the Info/DeviceCount parameter.
func (p *Provider) UpdateDeviceCount(n int) {
	p.mu.Lock()
	if p.tree == nil {
		p.mu.Unlock()
		return
	}
	value := int64(n)
	param := p.tree.deviceCount
	if param.Value == value {
		p.mu.Unlock()
		return
	}
	param.Value = value
	p.mu.Unlock()

	p.pushUpdate([]int{1, 1, param.Number}, param)
}

// pushUpdate sends a value-only parameter update to every consumer.
func (p *Provider) pushUpdate(path []int, param *Parameter) {
	payload, err := valueUpdate(path, param)
	if err != nil {
		p.logger.Error("encoding parameter update", slog.String("error", err.Error()))
		return
	}
	frame := encodeEmber(payload)

	p.mu.Lock()
	targets := make([]*consumer, 0, len(p.consumers))
	for c := range p.consumers {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	for _, c := range targets {
		if err := c.write(frame); err != nil {
			p.dropConsumer(c, err)
		}
	}
}

func (p *Provider) acceptLoop(ctx context.Context, listener net.Listener) {
	defer p.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				p.logger.Error("accept failed", slog.String("error", err.Error()))
			}
			return
		}

		c := &consumer{conn: conn}
		p.mu.Lock()
		if !p.running {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.consumers[c] = struct{}{}
		p.mu.Unlock()

		p.logger.Info("consumer connected", slog.String("remote", conn.RemoteAddr().String()))
		p.wg.Add(1)
		go p.serveConsumer(c)
	}
}

func (p *Provider) serveConsumer(c *consumer) {
	defer p.wg.Done()

	var scanner frameScanner
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			msgs, scanErr := scanner.push(buf[:n])
			if scanErr != nil {
				p.logger.Warn("dropping invalid s101 frame", slog.String("error", scanErr.Error()))
			}
			for _, msg := range msgs {
				p.handleMessage(c, msg)
			}
		}
		if err != nil {
			p.dropConsumer(c, err)
			return
		}
	}
}

func (p *Provider) handleMessage(c *consumer, msg *s101Message) {
	switch msg.command {
	case s101CmdKeepaliveReq:
		if err := c.write(encodeKeepalive(s101CmdKeepaliveResp)); err != nil {
			p.dropConsumer(c, err)
		}
	case s101CmdKeepaliveResp:
		// Nothing to do.
	case s101CmdPayload:
		p.handlePayload(c, msg.payload)
	default:
		p.logger.Debug("ignoring s101 command", slog.Int("command", int(msg.command)))
	}
}

func (p *Provider) handlePayload(c *consumer, payload []byte) {
	requests, err := decodeRequests(payload)
	if err != nil {
		p.logger.Warn("undecodable glow payload", slog.String("error", err.Error()))
		return
	}

	for _, req := range requests {
		switch req.kind {
		case requestGetDirectory:
			p.mu.Lock()
			response, err := p.tree.childrenResponse(req.path)
			p.mu.Unlock()
			if err != nil {
				p.logger.Error("encoding directory response", slog.String("error", err.Error()))
				continue
			}
			if err := c.write(encodeEmber(response)); err != nil {
				p.dropConsumer(c, err)
				return
			}

		case requestSetValue:
			// The tree is monitoring-only. Reject actively: log the
			// attempt and push the unchanged current value back, so a
			// misconfigured control surface sees its write bounce.
			p.logger.Warn("rejecting consumer write",
				slog.String("remote", c.conn.RemoteAddr().String()),
				slog.Any("path", req.path),
				slog.Any("value", req.value),
			)
			p.mu.Lock()
			param := p.tree.findParameter(req.path)
			p.mu.Unlock()
			if param == nil {
				continue
			}
			response, err := valueUpdate(req.path, param)
			if err != nil {
				continue
			}
			if err := c.write(encodeEmber(response)); err != nil {
				p.dropConsumer(c, err)
				return
			}

		default:
			p.logger.Debug("ignoring glow request", slog.Int("command", req.command))
		}
	}
}

// dropConsumer closes and forgets a consumer after an I/O error.
func (p *Provider) dropConsumer(c *consumer, err error) {
	p.mu.Lock()
	_, known := p.consumers[c]
	delete(p.consumers, c)
	p.mu.Unlock()

	c.conn.Close()
	if known && !errors.Is(err, net.ErrClosed) {
		p.logger.Info("consumer disconnected",
			slog.String("remote", c.conn.RemoteAddr().String()),
			slog.String("reason", err.Error()),
		)
	}
}
