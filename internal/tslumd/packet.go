// Package tslumd builds and sends TSL UMD v5.0 tally packets over UDP.
package tslumd

import (
	"encoding/binary"
	"fmt"

	"github.com/superdash/superdash/internal/device"
)

// Protocol constants.
const (
	version = 0x80
	flags   = 0x00

	headerLen = 12
)

// Tally colours and brightness levels, two bits each.
const (
	TallyOff   = 0
	TallyRed   = 1
	TallyGreen = 2
	TallyAmber = 3

	BrightnessOff    = 0
	BrightnessDim    = 1
	BrightnessMedium = 2
	BrightnessFull   = 3
)

// Control is the bit-packed tally and brightness word of a v5.0 packet:
// bits 0-1 right tally, 2-3 text tally, 4-5 left tally, 6-7 brightness.
type Control uint16

// NewControl packs tally and brightness values, each masked to two
// bits.
func NewControl(rh, txt, lh, brightness int) Control {
	return Control(rh&0x3 | (txt&0x3)<<2 | (lh&0x3)<<4 | (brightness&0x3)<<6)
}

// ControlFor maps a device state to its tally word: play lights red,
// rec lights amber, stop is dark at full brightness, and offline dims
// the display.
func ControlFor(state device.State) Control {
	switch state {
	case device.StatePlay:
		return NewControl(TallyRed, TallyRed, TallyOff, BrightnessFull)
	case device.StateRec:
		return NewControl(TallyAmber, TallyAmber, TallyOff, BrightnessFull)
	case device.StateStop:
		return NewControl(TallyOff, TallyOff, TallyOff, BrightnessFull)
	default:
		return NewControl(TallyOff, TallyOff, TallyOff, BrightnessDim)
	}
}

// BuildPacket serialises one v5.0 display message: screen and display
// index, control word, and the UTF-8 display text. The display index
// 0xFFFF is the broadcast address and is refused.
func BuildPacket(screen, index int, control Control, text string) ([]byte, error) {
	if index < 0 || index >= device.BroadcastDisplayIndex {
		return nil, fmt.Errorf("tslumd: display index %d out of range", index)
	}
	if screen < 0 || screen > 0xFFFE {
		return nil, fmt.Errorf("tslumd: screen %d out of range", screen)
	}

	textBytes := []byte(text)
	packet := make([]byte, headerLen+len(textBytes))

	binary.LittleEndian.PutUint16(packet[0:2], uint16(len(packet)))
	packet[2] = version
	packet[3] = flags
	binary.LittleEndian.PutUint16(packet[4:6], uint16(screen))
	binary.LittleEndian.PutUint16(packet[6:8], uint16(index))
	binary.LittleEndian.PutUint16(packet[8:10], uint16(control))
	binary.LittleEndian.PutUint16(packet[10:12], uint16(len(textBytes)))
	copy(packet[headerLen:], textBytes)

	return packet, nil
}
