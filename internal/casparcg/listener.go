// Package casparcg ingests the OSC state bundles CasparCG servers push
// over UDP and normalises channel/layer playback into device events.
// One shared listener owns the UDP socket; clients register for the
// (source IP, channel, layer) they follow.
package casparcg

import (
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"sync"

	"github.com/superdash/superdash/pkg/osc"
)

// routeKey identifies one registered client. Keying by channel and
// layer as well as source IP lets two channels of the same CasparCG
// host feed two devices without overwriting each other.
type routeKey struct {
	ip      string
	channel int
	layer   int
}

// router is the listener-facing side of a client.
type router interface {
	// handleMessage consumes one OSC message addressed to the client's
	// channel/layer; suffix is the address below the layer prefix.
	handleMessage(suffix string, args []any)
	// flush runs once after every packet that touched the client, so
	// state assembled from a bundle is emitted atomically.
	flush()
}

// Listener multiplexes one UDP socket across all registered CasparCG
// clients. The socket is bound on the first registration and closed
// again when the last client unregisters.
type Listener struct {
	port   int
	logger *slog.Logger

	mu      sync.Mutex
	clients map[routeKey]router
	conn    *net.UDPConn
	wg      sync.WaitGroup
}

// NewListener creates a listener for the given UDP port. The socket is
// not opened until the first client registers.
func NewListener(port int, logger *slog.Logger) *Listener {
	return &Listener{
		port:    port,
		logger:  logger,
		clients: make(map[routeKey]router),
	}
}

// Register adds a client route. The first registration binds the
// socket; a bind failure is returned to the caller and leaves the
// listener stopped.
func (l *Listener) Register(ip string, channel, layer int, r router) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := routeKey{ip: ip, channel: channel, layer: layer}
	if _, exists := l.clients[key]; exists {
		return fmt.Errorf("casparcg: %s channel %d layer %d already registered", ip, channel, layer)
	}

	if l.conn == nil {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: l.port})
		if err != nil {
			return fmt.Errorf("casparcg: binding udp %d: %w", l.port, err)
		}
		l.conn = conn
		l.wg.Add(1)
		go l.readLoop(conn)
		l.logger.Info("osc listener started", slog.Int("port", l.port))
	}

	l.clients[key] = r
	return nil
}

// Unregister removes a client route. When the registry empties, the
// socket is closed.
func (l *Listener) Unregister(ip string, channel, layer int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.clients, routeKey{ip: ip, channel: channel, layer: layer})
	if len(l.clients) == 0 && l.conn != nil {
		l.conn.Close()
		l.conn = nil
		l.logger.Info("osc listener stopped", slog.Int("port", l.port))
	}
}

// Addr returns the bound UDP address, or nil while the socket is
// closed. Useful when the listener was created with port 0.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Close drops all routes and closes the socket.
func (l *Listener) Close() {
	l.mu.Lock()
	l.clients = make(map[routeKey]router)
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Listener) readLoop(conn *net.UDPConn) {
	defer l.wg.Done()

	buf := make([]byte, 65536)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Closed by Unregister/Close; anything else is fatal for
			// this socket generation and logged once.
			l.mu.Lock()
			closed := l.conn != conn
			l.mu.Unlock()
			if !closed {
				l.logger.Error("osc read failed", slog.String("error", err.Error()))
			}
			return
		}

		packet, err := osc.Parse(buf[:n])
		if err != nil {
			l.logger.Debug("dropping malformed osc packet",
				slog.String("source", addr.IP.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.dispatch(addr.IP.String(), packet)
	}
}

// dispatch routes one decoded packet. All messages of a bundle are
// applied before any touched client flushes, so clients observe whole
// bundles.
func (l *Listener) dispatch(sourceIP string, packet any) {
	touched := make(map[router]struct{})
	l.walk(sourceIP, packet, touched)
	for r := range touched {
		r.flush()
	}
}

func (l *Listener) walk(sourceIP string, packet any, touched map[router]struct{}) {
	switch p := packet.(type) {
	case *osc.Bundle:
		for _, elem := range p.Elements {
			l.walk(sourceIP, elem, touched)
		}
	case *osc.Message:
		channel, layer, suffix, ok := splitLayerAddress(p.Address)
		if !ok {
			return
		}
		l.mu.Lock()
		r := l.clients[routeKey{ip: sourceIP, channel: channel, layer: layer}]
		l.mu.Unlock()
		if r == nil {
			// Unknown sources and unwatched layers are dropped silently;
			// CasparCG reports every layer it runs.
			return
		}
		r.handleMessage(suffix, p.Arguments)
		touched[r] = struct{}{}
	}
}

var layerAddressRe = regexp.MustCompile(`^/channel/(\d+)/stage/layer/(\d+)(/.+)$`)

// splitLayerAddress breaks /channel/C/stage/layer/L/<suffix> into its
// parts.
func splitLayerAddress(address string) (channel, layer int, suffix string, ok bool) {
	m := layerAddressRe.FindStringSubmatch(address)
	if m == nil {
		return 0, 0, "", false
	}
	channel, err1 := strconv.Atoi(m[1])
	layer, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, "", false
	}
	return channel, layer, m[3], true
}
