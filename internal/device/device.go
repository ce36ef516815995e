// Package device defines the normalised playout device model shared by the
// protocol clients, the aggregator, and the fan-out surfaces.
package device

import (
	"fmt"
	"net"
	"strconv"
)

// Type identifies the protocol family a device speaks.
type Type string

// Supported device types.
const (
	TypeHyperDeck Type = "hyperdeck"
	TypeVMix      Type = "vmix"
	TypeCasparCG  Type = "casparcg"
)

// Valid reports whether t is a known device type.
func (t Type) Valid() bool {
	switch t {
	case TypeHyperDeck, TypeVMix, TypeCasparCG:
		return true
	}
	return false
}

// DefaultPort returns the conventional control port for the device type.
func (t Type) DefaultPort() int {
	switch t {
	case TypeHyperDeck:
		return 9993
	case TypeVMix:
		return 8088
	case TypeCasparCG:
		return 6250
	}
	return 0
}

// State is the normalised transport state of a device.
type State string

// Normalised transport states. The ordering stop|play|rec|offline is
// normative for the Ember+ enumeration.
const (
	StateStop    State = "stop"
	StatePlay    State = "play"
	StateRec     State = "rec"
	StateOffline State = "offline"
)

// EnumIndex returns the position of the state in the normative
// stop|play|rec|offline ordering. Unknown states map to offline.
func (s State) EnumIndex() int {
	switch s {
	case StateStop:
		return 0
	case StatePlay:
		return 1
	case StateRec:
		return 2
	default:
		return 3
	}
}

// BroadcastDisplayIndex is the TSL UMD v5.0 broadcast display index. Device
// ids must never alias it.
const BroadcastDisplayIndex = 0xFFFF

// Config describes one configured device. It is immutable at runtime; ports,
// framerates, and CasparCG channel/layer are resolved from global defaults
// during configuration loading.
type Config struct {
	ID        int     `json:"id" mapstructure:"id"`
	Name      string  `json:"name" mapstructure:"name"`
	Type      Type    `json:"type" mapstructure:"type"`
	IP        string  `json:"ip" mapstructure:"ip"`
	Port      int     `json:"port,omitempty" mapstructure:"port"`
	Framerate float64 `json:"framerate,omitempty" mapstructure:"framerate"`

	// Channel and Layer select the CasparCG stage position to follow.
	// Ignored for other device types.
	Channel int `json:"channel,omitempty" mapstructure:"channel"`
	Layer   int `json:"layer,omitempty" mapstructure:"layer"`
}

// Addr returns the host:port dial string for the device.
func (c Config) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

func (c Config) String() string {
	return fmt.Sprintf("%s[%d] %s (%s)", c.Type, c.ID, c.Name, c.Addr())
}

// InitialTimecode is the timecode reported before a device has sent one.
const InitialTimecode = "00:00:00:00"

// Status is the mutable normalised state of one device. It is owned
// exclusively by the aggregator; everything else sees copies.
type Status struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Type      Type    `json:"type"`
	IP        string  `json:"ip"`
	Port      int     `json:"port"`
	Framerate float64 `json:"framerate"`
	State     State   `json:"state"`
	Timecode  string  `json:"timecode"`
	Filename  string  `json:"filename"`

	// Updated is a monotonic timestamp in milliseconds since process start,
	// never wall clock, so stale devices remain detectable across NTP steps.
	Updated   int64 `json:"updated"`
	Connected bool  `json:"connected"`
}

// NewStatus builds the initial offline status for a configured device.
func NewStatus(cfg Config) *Status {
	return &Status{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Type:      cfg.Type,
		IP:        cfg.IP,
		Port:      cfg.Port,
		Framerate: cfg.Framerate,
		State:     StateOffline,
		Timecode:  InitialTimecode,
	}
}
