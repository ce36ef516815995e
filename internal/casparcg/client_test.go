package casparcg

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdash/superdash/internal/device"
	"github.com/superdash/superdash/pkg/osc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSplitLayerAddress(t *testing.T) {
	channel, layer, suffix, ok := splitLayerAddress("/channel/1/stage/layer/10/file/path")
	require.True(t, ok)
	assert.Equal(t, 1, channel)
	assert.Equal(t, 10, layer)
	assert.Equal(t, "/file/path", suffix)

	_, _, _, ok = splitLayerAddress("/channel/1/output/port/1/type")
	assert.False(t, ok)

	_, _, _, ok = splitLayerAddress("/channel/1/stage/layer/10")
	assert.False(t, ok)
}

func TestBasename(t *testing.T) {
	assert.Equal(t, "show.mov", basename("clips/show.mov"))
	assert.Equal(t, "show.mov", basename("clips\\show.mov"))
	assert.Equal(t, "show.mov", basename("show.mov"))
	assert.Equal(t, "", basename(""))
}

// harness wires a client to a listener on an ephemeral port and
// returns a send function targeting it from 127.0.0.1.
type harness struct {
	client *Client
	events chan device.Event
	conn   *net.UDPConn
}

func newHarness(t *testing.T, staleTimeout time.Duration) *harness {
	t.Helper()

	listener := NewListener(0, testLogger())
	events := make(chan device.Event, 64)
	cfg := device.Config{
		ID: 9, Name: "Caspar 1", Type: device.TypeCasparCG,
		IP: "127.0.0.1", Channel: 1, Layer: 10, Framerate: 50,
	}
	client := New(cfg, listener, staleTimeout, events, testLogger())
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() {
		client.Stop()
		listener.Close()
	})

	addr := listener.Addr()
	require.NotNil(t, addr)
	conn, err := net.DialUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, addr.(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &harness{client: client, events: events, conn: conn}
}

func (h *harness) send(t *testing.T, packet interface{ Encode() ([]byte, error) }) {
	t.Helper()
	raw, err := packet.Encode()
	require.NoError(t, err)
	_, err = h.conn.Write(raw)
	require.NoError(t, err)
}

func waitForEvent(t *testing.T, events <-chan device.Event, match func(device.Event) bool) device.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func playBundle() *osc.Bundle {
	return &osc.Bundle{
		Timetag: osc.TimetagImmediate,
		Elements: []any{
			&osc.Message{Address: "/channel/1/stage/layer/10/file/path", Arguments: []any{"clips/show.mov"}},
			&osc.Message{Address: "/channel/1/stage/layer/10/file/frame", Arguments: []any{int64(250)}},
			&osc.Message{Address: "/channel/1/stage/layer/10/paused", Arguments: []any{int32(0)}},
		},
	}
}

func TestClient_PlayBundle(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.send(t, playBundle())

	ev := waitForEvent(t, h.events, func(ev device.Event) bool {
		c, ok := ev.(device.ConnectionEvent)
		return ok && c.Connected
	})
	assert.Equal(t, 9, ev.DeviceID())

	ev = waitForEvent(t, h.events, func(ev device.Event) bool {
		_, ok := ev.(device.StateEvent)
		return ok
	})
	state := ev.(device.StateEvent)
	assert.Equal(t, device.StatePlay, state.State)
	assert.Equal(t, "00:00:05:00", state.Timecode)
	assert.Equal(t, "show.mov", state.Filename)
}

func TestClient_PausedStops(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.send(t, playBundle())
	waitForEvent(t, h.events, func(ev device.Event) bool {
		s, ok := ev.(device.StateEvent)
		return ok && s.State == device.StatePlay
	})

	h.send(t, &osc.Bundle{
		Timetag: osc.TimetagImmediate,
		Elements: []any{
			&osc.Message{Address: "/channel/1/stage/layer/10/paused", Arguments: []any{int32(1)}},
		},
	})
	ev := waitForEvent(t, h.events, func(ev device.Event) bool {
		_, ok := ev.(device.StateEvent)
		return ok
	})
	assert.Equal(t, device.StateStop, ev.(device.StateEvent).State)
}

func TestClient_DuplicateBundleDoesNotReemit(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.send(t, playBundle())
	waitForEvent(t, h.events, func(ev device.Event) bool {
		_, ok := ev.(device.StateEvent)
		return ok
	})

	// Identical bundle, then a changed one. The changed event arriving
	// first proves the duplicate was suppressed.
	h.send(t, playBundle())
	h.send(t, &osc.Bundle{
		Timetag: osc.TimetagImmediate,
		Elements: []any{
			&osc.Message{Address: "/channel/1/stage/layer/10/file/frame", Arguments: []any{int64(500)}},
		},
	})
	ev := waitForEvent(t, h.events, func(ev device.Event) bool {
		_, ok := ev.(device.StateEvent)
		return ok
	})
	assert.Equal(t, "00:00:10:00", ev.(device.StateEvent).Timecode)
}

func TestClient_TimeFallbackWhenFrameZero(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.send(t, &osc.Bundle{
		Timetag: osc.TimetagImmediate,
		Elements: []any{
			&osc.Message{Address: "/channel/1/stage/layer/10/file/path", Arguments: []any{"loop.mov"}},
			&osc.Message{Address: "/channel/1/stage/layer/10/file/time", Arguments: []any{float32(2.5), float32(60)}},
			&osc.Message{Address: "/channel/1/stage/layer/10/file/fps", Arguments: []any{float32(50)}},
		},
	})
	ev := waitForEvent(t, h.events, func(ev device.Event) bool {
		_, ok := ev.(device.StateEvent)
		return ok
	})
	assert.Equal(t, "00:00:02:25", ev.(device.StateEvent).Timecode)
}

func TestClient_RejectsOutOfRangeFPS(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.send(t, &osc.Bundle{
		Timetag: osc.TimetagImmediate,
		Elements: []any{
			&osc.Message{Address: "/channel/1/stage/layer/10/file/path", Arguments: []any{"x.mov"}},
			&osc.Message{Address: "/channel/1/stage/layer/10/file/fps", Arguments: []any{float32(0)}},
			&osc.Message{Address: "/channel/1/stage/layer/10/file/time", Arguments: []any{float32(1), float32(60)}},
		},
	})
	ev := waitForEvent(t, h.events, func(ev device.Event) bool {
		_, ok := ev.(device.StateEvent)
		return ok
	})
	// fps 0 is rejected; the configured framerate (50) applies.
	assert.Equal(t, "00:00:01:00", ev.(device.StateEvent).Timecode)
}

func TestClient_UnknownLayerDropped(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.send(t, &osc.Message{
		Address:   "/channel/2/stage/layer/10/file/path",
		Arguments: []any{"other.mov"},
	})

	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %#v for unwatched channel", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClient_StaleDisconnect(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	h.send(t, playBundle())
	waitForEvent(t, h.events, func(ev device.Event) bool {
		c, ok := ev.(device.ConnectionEvent)
		return ok && c.Connected
	})

	ev := waitForEvent(t, h.events, func(ev device.Event) bool {
		c, ok := ev.(device.ConnectionEvent)
		return ok && !c.Connected
	})
	assert.Equal(t, 9, ev.DeviceID())
}

func TestListener_TwoChannelsOneHost(t *testing.T) {
	listener := NewListener(0, testLogger())
	defer listener.Close()

	events := make(chan device.Event, 64)
	mk := func(id, channel int) *Client {
		cfg := device.Config{
			ID: id, Name: "Caspar", Type: device.TypeCasparCG,
			IP: "127.0.0.1", Channel: channel, Layer: 10, Framerate: 50,
		}
		c := New(cfg, listener, time.Minute, events, testLogger())
		require.NoError(t, c.Start(context.Background()))
		t.Cleanup(c.Stop)
		return c
	}
	mk(1, 1)
	mk(2, 2)

	conn, err := net.DialUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, listener.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	msg := &osc.Message{Address: "/channel/2/stage/layer/10/foreground/file/name", Arguments: []any{"b.mov"}}
	raw, err := msg.Encode()
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	ev := waitForEvent(t, events, func(ev device.Event) bool {
		_, ok := ev.(device.StateEvent)
		return ok
	})
	assert.Equal(t, 2, ev.DeviceID())
	assert.Equal(t, "b.mov", ev.(device.StateEvent).Filename)
}

func TestListener_DuplicateRegistration(t *testing.T) {
	listener := NewListener(0, testLogger())
	defer listener.Close()

	events := make(chan device.Event, 4)
	cfg := device.Config{ID: 1, IP: "127.0.0.1", Channel: 1, Layer: 10, Framerate: 50}
	a := New(cfg, listener, time.Minute, events, testLogger())
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	b := New(cfg, listener, time.Minute, events, testLogger())
	assert.Error(t, b.Start(context.Background()))
}
