package hyperdeck

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdash/superdash/internal/device"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParser_SingleLine(t *testing.T) {
	var p parser
	resp, done := p.feed("200 ok\r\n")
	require.True(t, done)
	assert.Equal(t, 200, resp.code)
	assert.Equal(t, "ok", resp.name)
	assert.Nil(t, resp.fields)
}

func TestParser_MultiLine(t *testing.T) {
	var p parser
	lines := []string{
		"208 transport info:\r\n",
		"status: play\r\n",
		"display timecode: 01:23:45:12\r\n",
		"active slot: 1\r\n",
	}
	for _, line := range lines {
		resp, done := p.feed(line)
		require.False(t, done, "block must not complete on %q", line)
		require.Nil(t, resp)
	}

	resp, done := p.feed("\r\n")
	require.True(t, done)
	assert.Equal(t, 208, resp.code)
	assert.Equal(t, "transport info", resp.name)
	assert.Equal(t, "play", resp.fields["status"])
	assert.Equal(t, "01:23:45:12", resp.fields["display_timecode"])
	assert.Equal(t, "1", resp.fields["active_slot"])
}

func TestParser_BareLF(t *testing.T) {
	var p parser
	_, done := p.feed("202 slot info:\n")
	require.False(t, done)
	_, done = p.feed("clip name: clip.mov\n")
	require.False(t, done)
	resp, done := p.feed("\n")
	require.True(t, done)
	assert.Equal(t, "clip.mov", resp.fields["clip_name"])
}

func TestParser_IgnoresNoise(t *testing.T) {
	var p parser
	resp, done := p.feed("not a protocol line\r\n")
	assert.False(t, done)
	assert.Nil(t, resp)
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		status   string
		expected device.State
	}{
		{"play", device.StatePlay},
		{"playing", device.StatePlay},
		{"Play", device.StatePlay},
		{"record", device.StateRec},
		{"recording", device.StateRec},
		{"stopped", device.StateStop},
		{"preview", device.StateStop},
		{"shuttle forward", device.StateStop},
		{"jog", device.StateStop},
		{"fast forward", device.StateStop},
		{"rewind", device.StateStop},
		{"anything else", device.StateStop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, mapStatus(tt.status), "status=%q", tt.status)
	}
}

func TestNormalizeTimecode(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
		ok       bool
	}{
		{"01:23:45:12", "01:23:45:12", true},
		{"01:23:45;12", "01:23:45:12", true},
		{"01234512", "01:23:45:12", true},
		{" 01:23:45:12 ", "01:23:45:12", true},
		{"garbage", "garbage", false},
		{"1:2:3:4", "1:2:3:4", false},
	}
	for _, tt := range tests {
		got, ok := normalizeTimecode(tt.raw)
		assert.Equal(t, tt.expected, got, "raw=%q", tt.raw)
		assert.Equal(t, tt.ok, ok, "raw=%q", tt.raw)
	}
}

func TestNextReconnectDelay(t *testing.T) {
	var got []time.Duration
	d := initialReconnectDelay
	got = append(got, d)
	for i := 0; i < 6; i++ {
		d = nextReconnectDelay(d)
		got = append(got, d)
	}
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	assert.Equal(t, expected, got)
}

func waitForEvent(t *testing.T, events <-chan device.Event) device.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// fakeDeck accepts one connection, discards incoming commands, and
// lets the test script protocol responses.
type fakeDeck struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeDeck(t *testing.T) *fakeDeck {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &fakeDeck{ln: ln, conns: make(chan net.Conn, 1)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Consume client commands so writes never block.
			go func() {
				r := bufio.NewReader(conn)
				for {
					if _, err := r.ReadString('\n'); err != nil {
						return
					}
				}
			}()
			d.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *fakeDeck) port(t *testing.T) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(d.ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func (d *fakeDeck) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func TestClient_TransportAndSlotSequence(t *testing.T) {
	deck := newFakeDeck(t)
	events := make(chan device.Event, 32)

	cfg := device.Config{
		ID: 7, Name: "Deck A", Type: device.TypeHyperDeck,
		IP: "127.0.0.1", Port: deck.port(t), Framerate: 25,
	}
	client := New(cfg, events, testLogger())
	client.Start(context.Background())
	defer client.Stop()

	conn := deck.accept(t)
	defer conn.Close()

	ev := waitForEvent(t, events)
	conn1, ok := ev.(device.ConnectionEvent)
	require.True(t, ok, "expected connection event, got %#v", ev)
	assert.True(t, conn1.Connected)
	assert.Equal(t, 7, conn1.DeviceID())

	// Scenario: transport info with a new active slot, then the slot
	// info supplying the clip name. One combined event must follow.
	_, err := conn.Write([]byte(
		"208 transport info:\r\n" +
			"status: play\r\n" +
			"display timecode: 01:23:45:12\r\n" +
			"active slot: 1\r\n" +
			"\r\n" +
			"202 slot info:\r\n" +
			"slot id: 1\r\n" +
			"clip name: clip.mov\r\n" +
			"\r\n"))
	require.NoError(t, err)

	ev = waitForEvent(t, events)
	state, ok := ev.(device.StateEvent)
	require.True(t, ok, "expected state event, got %#v", ev)
	assert.Equal(t, device.StatePlay, state.State)
	assert.Equal(t, "01:23:45:12", state.Timecode)
	assert.Equal(t, "clip.mov", state.Filename)

	// An identical transport info must not emit; the following stop
	// must. Receiving the stop event first proves the duplicate was
	// suppressed.
	_, err = conn.Write([]byte(
		"208 transport info:\r\n" +
			"status: play\r\n" +
			"display timecode: 01:23:45:12\r\n" +
			"active slot: 1\r\n" +
			"\r\n" +
			"508 transport info:\r\n" +
			"status: stopped\r\n" +
			"display timecode: 01:23:45:12\r\n" +
			"active slot: 1\r\n" +
			"\r\n"))
	require.NoError(t, err)

	ev = waitForEvent(t, events)
	state, ok = ev.(device.StateEvent)
	require.True(t, ok, "expected state event, got %#v", ev)
	assert.Equal(t, device.StateStop, state.State)
	assert.Equal(t, "clip.mov", state.Filename)
}

func TestClient_SlotSwitchHoldsAcrossTransportInfos(t *testing.T) {
	deck := newFakeDeck(t)
	events := make(chan device.Event, 32)

	cfg := device.Config{
		ID: 2, Name: "Deck C", Type: device.TypeHyperDeck,
		IP: "127.0.0.1", Port: deck.port(t), Framerate: 25,
	}
	client := New(cfg, events, testLogger())
	client.Start(context.Background())
	defer client.Stop()

	conn := deck.accept(t)
	defer conn.Close()

	ev := waitForEvent(t, events)
	require.IsType(t, device.ConnectionEvent{}, ev)

	// A slot switch holds emission until the slot response arrives,
	// even across further transport infos, so the dashboard never sees
	// the new slot with the old clip name. The first state event must
	// already carry the new clip.
	_, err := conn.Write([]byte(
		"208 transport info:\r\n" +
			"status: play\r\n" +
			"display timecode: 00:00:01:00\r\n" +
			"active slot: 2\r\n" +
			"\r\n" +
			"508 transport info:\r\n" +
			"status: play\r\n" +
			"display timecode: 00:00:02:00\r\n" +
			"active slot: 2\r\n" +
			"\r\n" +
			"202 slot info:\r\n" +
			"slot id: 2\r\n" +
			"clip name: reel2.mov\r\n" +
			"\r\n"))
	require.NoError(t, err)

	ev = waitForEvent(t, events)
	state, ok := ev.(device.StateEvent)
	require.True(t, ok, "expected state event, got %#v", ev)
	assert.Equal(t, device.StatePlay, state.State)
	assert.Equal(t, "00:00:02:00", state.Timecode, "held event carries the latest transport info")
	assert.Equal(t, "reel2.mov", state.Filename)
}

func TestClient_DisconnectEventOnPeerClose(t *testing.T) {
	deck := newFakeDeck(t)
	events := make(chan device.Event, 32)

	cfg := device.Config{
		ID: 3, Name: "Deck B", Type: device.TypeHyperDeck,
		IP: "127.0.0.1", Port: deck.port(t), Framerate: 25,
	}
	client := New(cfg, events, testLogger())
	client.Start(context.Background())
	defer client.Stop()

	conn := deck.accept(t)

	ev := waitForEvent(t, events)
	require.IsType(t, device.ConnectionEvent{}, ev)
	assert.True(t, ev.(device.ConnectionEvent).Connected)

	conn.Close()

	ev = waitForEvent(t, events)
	connEv, ok := ev.(device.ConnectionEvent)
	require.True(t, ok, "expected connection event, got %#v", ev)
	assert.False(t, connEv.Connected)
}

func TestClient_StopDuringBackoff(t *testing.T) {
	// Grab a port and close the listener so connects are refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	ln.Close()

	events := make(chan device.Event, 32)
	cfg := device.Config{
		ID: 1, Name: "Gone", Type: device.TypeHyperDeck,
		IP: "127.0.0.1", Port: port, Framerate: 25,
	}
	client := New(cfg, events, testLogger())
	client.Start(context.Background())

	// A connect error surfaces as an error event.
	ev := waitForEvent(t, events)
	_, ok := ev.(device.ErrorEvent)
	require.True(t, ok, "expected error event, got %#v", ev)

	done := make(chan struct{})
	go func() {
		client.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the reconnect timer")
	}
}
