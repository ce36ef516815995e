package device

// Event is a protocol client notification consumed by the aggregator.
// Clients post events to a single channel; the aggregator applies them in
// arrival order, which keeps per-device updates monotonic.
type Event interface {
	// DeviceID identifies the device the event belongs to.
	DeviceID() int
}

// StateEvent carries a normalised transport state change. Clients emit one
// only when state, timecode, or filename differs from the last emission.
type StateEvent struct {
	ID       int
	State    State
	Timecode string
	Filename string
}

// DeviceID implements Event.
func (e StateEvent) DeviceID() int { return e.ID }

// ConnectionEvent reports a transport connect or disconnect.
type ConnectionEvent struct {
	ID        int
	Connected bool
}

// DeviceID implements Event.
func (e ConnectionEvent) DeviceID() int { return e.ID }

// ErrorEvent surfaces a non-fatal client error for logging and metrics.
// Errors never tear down the aggregator; the owning client recovers itself.
type ErrorEvent struct {
	ID  int
	Err error
}

// DeviceID implements Event.
func (e ErrorEvent) DeviceID() int { return e.ID }
