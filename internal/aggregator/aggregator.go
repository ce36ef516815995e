// Package aggregator owns the authoritative device state store. Protocol
// clients post events to one channel; the aggregator applies them in
// arrival order and fans the resulting state out to the Ember+ provider
// and the TSL UMD sender.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/superdash/superdash/internal/device"
	"github.com/superdash/superdash/internal/emberplus"
	"github.com/superdash/superdash/internal/metrics"
	"github.com/superdash/superdash/internal/tslumd"
)

// EventBuffer is the capacity of the shared event channel. Clients block
// briefly under burst rather than dropping events.
const EventBuffer = 256

// EmberUpdater receives device status changes for the Ember+ tree.
type EmberUpdater interface {
	UpdateDevice(id int, st *device.Status)
	Status() emberplus.Status
}

// UMDUpdater receives tally changes for the UMD sender.
type UMDUpdater interface {
	UpdateDevice(id int, name string, state device.State)
	Status() tslumd.Status
}

// Aggregator serialises device events into the state store.
type Aggregator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  chan device.Event
	start   time.Time

	ember EmberUpdater
	umd   UMDUpdater

	mu       sync.RWMutex
	devices  map[int]*device.Status
	counters map[int]*DeviceCounters
}

// DeviceCounters tracks per-device availability figures for reporting.
type DeviceCounters struct {
	Connects    int64 `json:"connects"`
	Disconnects int64 `json:"disconnects"`
	Errors      int64 `json:"errors"`
}

// New seeds the store with one offline status per configured device.
// The ember and umd sinks may be nil when those outputs are disabled.
func New(devices []device.Config, ember EmberUpdater, umd UMDUpdater, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	a := &Aggregator{
		logger:   logger,
		metrics:  m,
		events:   make(chan device.Event, EventBuffer),
		start:    time.Now(),
		ember:    ember,
		umd:      umd,
		devices:  make(map[int]*device.Status, len(devices)),
		counters: make(map[int]*DeviceCounters, len(devices)),
	}
	for _, cfg := range devices {
		a.devices[cfg.ID] = device.NewStatus(cfg)
		a.counters[cfg.ID] = &DeviceCounters{}
		m.SetConnected(cfg.Name, false)
	}
	return a
}

// Events returns the channel protocol clients post to.
func (a *Aggregator) Events() chan<- device.Event { return a.events }

// Run applies events until ctx is cancelled. It is the only goroutine
// that mutates the store.
func (a *Aggregator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.apply(ev)
		}
	}
}

// uptime is the monotonic Updated stamp in milliseconds.
func (a *Aggregator) uptime() int64 {
	return time.Since(a.start).Milliseconds()
}

// Uptime returns milliseconds since the aggregator started. Broadcast
// timestamps use this so they share the monotonic reference of the
// per-device Updated stamps and never jump with wall-clock steps.
func (a *Aggregator) Uptime() int64 {
	return a.uptime()
}

func (a *Aggregator) apply(ev device.Event) {
	switch e := ev.(type) {
	case device.StateEvent:
		a.applyState(e)
	case device.ConnectionEvent:
		a.applyConnection(e)
	case device.ErrorEvent:
		a.applyError(e)
	default:
		a.logger.Warn("unknown event type", slog.Int("device", ev.DeviceID()))
	}
}

func (a *Aggregator) applyState(e device.StateEvent) {
	a.mu.Lock()
	st, ok := a.devices[e.ID]
	if !ok {
		a.mu.Unlock()
		a.logger.Warn("state event for unknown device", slog.Int("device", e.ID))
		return
	}
	st.State = e.State
	st.Timecode = e.Timecode
	st.Filename = e.Filename
	st.Updated = a.uptime()
	copied := *st
	a.mu.Unlock()

	a.metrics.EventApplied(copied.Name, "state")
	a.logger.Debug("state applied",
		slog.Int("device", e.ID),
		slog.String("state", string(e.State)),
		slog.String("timecode", e.Timecode),
		slog.String("filename", e.Filename),
	)
	a.fanOut(&copied)
}

func (a *Aggregator) applyConnection(e device.ConnectionEvent) {
	a.mu.Lock()
	st, ok := a.devices[e.ID]
	if !ok {
		a.mu.Unlock()
		a.logger.Warn("connection event for unknown device", slog.Int("device", e.ID))
		return
	}
	if e.Connected {
		st.Connected = true
		// A reconnect before the first state report shows stop rather
		// than a stale offline.
		if st.State == device.StateOffline {
			st.State = device.StateStop
		}
		a.counters[e.ID].Connects++
	} else {
		st.Connected = false
		// Timecode and filename survive the outage for the dashboard.
		st.State = device.StateOffline
		a.counters[e.ID].Disconnects++
	}
	st.Updated = a.uptime()
	copied := *st
	a.mu.Unlock()

	a.metrics.EventApplied(copied.Name, "connection")
	a.metrics.SetConnected(copied.Name, e.Connected)
	if e.Connected {
		a.logger.Info("device connected", slog.Int("device", e.ID), slog.String("name", copied.Name))
	} else {
		a.logger.Warn("device disconnected", slog.Int("device", e.ID), slog.String("name", copied.Name))
	}
	a.fanOut(&copied)
}

func (a *Aggregator) applyError(e device.ErrorEvent) {
	a.mu.Lock()
	name := ""
	component := ""
	if st, ok := a.devices[e.ID]; ok {
		name = st.Name
		component = string(st.Type)
	}
	if c, ok := a.counters[e.ID]; ok {
		c.Errors++
	}
	a.mu.Unlock()

	a.metrics.EventApplied(name, "error")
	a.metrics.ProtocolError(component)
	a.logger.Warn("device error",
		slog.Int("device", e.ID),
		slog.String("name", name),
		slog.String("error", e.Err.Error()),
	)
}

// fanOut pushes an applied status to the Ember+ tree and the UMD sender.
func (a *Aggregator) fanOut(st *device.Status) {
	if a.ember != nil {
		a.ember.UpdateDevice(st.ID, st)
	}
	if a.umd != nil {
		a.umd.UpdateDevice(st.ID, st.Name, st.State)
	}
}

// Snapshot returns a deep copy of every device status, ordered by id.
func (a *Aggregator) Snapshot() []device.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]device.Status, 0, len(a.devices))
	for _, st := range a.devices {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Device returns a copy of one device's status.
func (a *Aggregator) Device(id int) (device.Status, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.devices[id]
	if !ok {
		return device.Status{}, false
	}
	return *st, true
}

// ConnectedCount reports how many devices are currently connected.
func (a *Aggregator) ConnectedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, st := range a.devices {
		if st.Connected {
			n++
		}
	}
	return n
}

// Counters returns a copy of the per-device availability counters.
func (a *Aggregator) Counters() map[int]DeviceCounters {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[int]DeviceCounters, len(a.counters))
	for id, c := range a.counters {
		out[id] = *c
	}
	return out
}

// ProtocolStatus describes the fan-out surfaces for the WS payload and
// the health endpoint.
type ProtocolStatus struct {
	Ember emberplus.Status `json:"emberPlus"`
	TSL   tslumd.Status    `json:"tslUmd"`
}

// ProtocolStatus reports the current Ember+ and TSL sender state.
func (a *Aggregator) ProtocolStatus() ProtocolStatus {
	var ps ProtocolStatus
	if a.ember != nil {
		ps.Ember = a.ember.Status()
	}
	if a.umd != nil {
		ps.TSL = a.umd.Status()
	}
	return ps
}
