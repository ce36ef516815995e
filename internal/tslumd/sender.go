package tslumd

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/superdash/superdash/internal/device"
	"github.com/superdash/superdash/pkg/ticker"
)

// DefaultRefreshInterval is the background round-robin refresh period.
// One device is re-sent per tick, so a lost UDP packet is repaired
// within deviceCount ticks.
const DefaultRefreshInterval = 200 * time.Millisecond

// Destination is one UDP target for tally packets.
type Destination struct {
	Host string
	Port int
}

func (d Destination) addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Sender pushes tally state to the configured destinations: once
// immediately on every name or state change, plus a continuous
// round-robin refresh.
type Sender struct {
	screen       int
	destinations []Destination
	refresh      time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	conn     net.PacketConn
	addrs    []net.Addr
	running  bool
	devices  map[int]*tallyState
	order    []int
	next     int
	sent     uint64
	onPacket func(destination string)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type tallyState struct {
	name  string
	state device.State
}

// NewSender creates a sender for the configured screen and
// destinations.
func NewSender(screen int, destinations []Destination, refresh time.Duration, logger *slog.Logger) *Sender {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	return &Sender{
		screen:       screen,
		destinations: destinations,
		refresh:      refresh,
		logger:       logger,
		devices:      make(map[int]*tallyState),
	}
}

// SetPacketHook installs a callback invoked after every packet written
// to a destination.
func (s *Sender) SetPacketHook(fn func(destination string)) {
	s.mu.Lock()
	s.onPacket = fn
	s.mu.Unlock()
}

// Start opens the UDP socket with broadcast enabled and launches the
// refresh loop. Without destinations it is a no-op. Idempotent: a
// running sender stays as it is. The sender only reports running once
// the socket has opened successfully.
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || len(s.destinations) == 0 {
		return nil
	}

	addrs := make([]net.Addr, 0, len(s.destinations))
	for _, dst := range s.destinations {
		addr, err := net.ResolveUDPAddr("udp4", dst.addr())
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return err
	}

	s.conn = conn
	s.addrs = addrs
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.refreshLoop(runCtx)

	s.logger.Info("tsl sender started",
		slog.Int("screen", s.screen),
		slog.Int("destinations", len(s.destinations)),
	)
	return nil
}

// enableBroadcast sets SO_BROADCAST so broadcast-addressed
// destinations are permitted.
func enableBroadcast(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Stop closes the socket and halts the refresh loop. Idempotent.
func (s *Sender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	s.logger.Info("tsl sender stopped")
}

// UpdateDevice records the device's tally state and, when the name or
// state changed, sends it to every destination immediately. New
// devices join the refresh rotation in first-seen order.
func (s *Sender) UpdateDevice(id int, name string, state device.State) {
	s.mu.Lock()
	cur, known := s.devices[id]
	if !known {
		s.devices[id] = &tallyState{name: name, state: state}
		s.order = append(s.order, id)
	} else if cur.name == name && cur.state == state {
		s.mu.Unlock()
		return
	} else {
		cur.name = name
		cur.state = state
	}
	running := s.running
	s.mu.Unlock()

	if running {
		s.send(id, name, state)
	}
}

// Status describes the sender for the dashboard protocols payload.
type Status struct {
	Enabled      bool     `json:"enabled"`
	Running      bool     `json:"running"`
	Destinations []string `json:"destinations"`
	DeviceCount  int      `json:"deviceCount"`
	PacketsSent  uint64   `json:"packetsSent"`
}

// Status reports the sender state.
func (s *Sender) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	dests := make([]string, 0, len(s.destinations))
	for _, d := range s.destinations {
		dests = append(dests, d.addr())
	}
	return Status{
		Enabled:      len(s.destinations) > 0,
		Running:      s.running,
		Destinations: dests,
		DeviceCount:  len(s.devices),
		PacketsSent:  s.sent,
	}
}

// refreshLoop re-sends one device per tick, walking the device set
// round-robin on a drift-free schedule.
func (s *Sender) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	t := ticker.New(s.refresh)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			id, st, ok := s.nextDevice()
			if ok {
				s.send(id, st.name, st.state)
			}
		}
	}
}

func (s *Sender) nextDevice() (int, tallyState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return 0, tallyState{}, false
	}
	s.next %= len(s.order)
	id := s.order[s.next]
	s.next++
	st := s.devices[id]
	return id, *st, true
}

// send builds one packet and writes it to every destination. A failure
// toward one destination is logged and must not block the others.
func (s *Sender) send(id int, name string, state device.State) {
	packet, err := BuildPacket(s.screen, id, ControlFor(state), name)
	if err != nil {
		s.logger.Warn("skipping tally packet", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	conn := s.conn
	addrs := s.addrs
	onPacket := s.onPacket
	s.mu.Unlock()
	if conn == nil {
		return
	}

	for _, addr := range addrs {
		if _, err := conn.WriteTo(packet, addr); err != nil {
			s.logger.Warn("tally send failed",
				slog.String("destination", addr.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.mu.Lock()
		s.sent++
		s.mu.Unlock()
		if onPacket != nil {
			onPacket(addr.String())
		}
	}
}
