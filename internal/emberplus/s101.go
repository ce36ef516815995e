// Package emberplus implements the monitoring side of the Ember+
// protocol: S101 framing, the BER-TLV subset of the Glow DTD needed for
// a static parameter tree, and a TCP provider that pushes value
// updates to connected consumers.
package emberplus

import (
	"bytes"
	"errors"
	"fmt"
)

// S101 framing bytes. Any payload byte in the escape range is sent as
// CE followed by the byte XOR 0x20.
const (
	s101BOF = 0xFE
	s101EOF = 0xFF
	s101CE  = 0xFD

	s101EscapeXOR   = 0x20
	s101EscapeFloor = 0xF8
)

// S101 message header values.
const (
	s101Slot         = 0x00
	s101MessageEmber = 0x0E

	s101CmdPayload       = 0x00
	s101CmdKeepaliveReq  = 0x01
	s101CmdKeepaliveResp = 0x02

	s101Version          = 0x01
	s101FlagsSingleFrame = 0xC0
	s101DTDGlow          = 0x01
)

// Glow DTD version app bytes (major 2, minor 31).
var s101AppBytes = []byte{0x02, 0x1F}

var (
	// ErrBadCRC is returned for a frame whose checksum does not verify.
	ErrBadCRC = errors.New("emberplus: s101 crc mismatch")
	// ErrBadFrame is returned for structurally invalid frames.
	ErrBadFrame = errors.New("emberplus: malformed s101 frame")
)

// crcTable is the reflected CCITT table (polynomial 0x8408).
var crcTable [256]uint16

func init() {
	for i := range crcTable {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc>>8 ^ crcTable[byte(crc)^b]
	}
	return crc
}

// crcResidue is the constant value of crc16 over a message with its
// complemented checksum appended.
const crcResidue = 0xF0B8

// s101Message is one deframed S101 message.
type s101Message struct {
	command byte
	payload []byte
}

// frame wraps content (header without CRC) into a complete S101 frame:
// checksum, escaping, BOF/EOF delimiters.
func frame(content []byte) []byte {
	crc := ^crc16(content)

	var out bytes.Buffer
	out.WriteByte(s101BOF)
	escapeTo(&out, content)
	escapeTo(&out, []byte{byte(crc), byte(crc >> 8)})
	out.WriteByte(s101EOF)
	return out.Bytes()
}

func escapeTo(out *bytes.Buffer, data []byte) {
	for _, b := range data {
		if b >= s101EscapeFloor {
			out.WriteByte(s101CE)
			out.WriteByte(b ^ s101EscapeXOR)
			continue
		}
		out.WriteByte(b)
	}
}

// encodeEmber frames a Glow payload as a single-frame EmBER message.
func encodeEmber(payload []byte) []byte {
	content := make([]byte, 0, 9+len(payload))
	content = append(content,
		s101Slot, s101MessageEmber, s101CmdPayload,
		s101Version, s101FlagsSingleFrame, s101DTDGlow,
		byte(len(s101AppBytes)),
	)
	content = append(content, s101AppBytes...)
	content = append(content, payload...)
	return frame(content)
}

// encodeKeepalive frames a keepalive request or response.
func encodeKeepalive(command byte) []byte {
	return frame([]byte{s101Slot, s101MessageEmber, command, s101Version})
}

// decodeFrame validates and parses the bytes between BOF and EOF
// (exclusive, still escaped).
func decodeFrame(escaped []byte) (*s101Message, error) {
	data := make([]byte, 0, len(escaped))
	for i := 0; i < len(escaped); i++ {
		b := escaped[i]
		if b == s101CE {
			i++
			if i >= len(escaped) {
				return nil, fmt.Errorf("%w: dangling escape", ErrBadFrame)
			}
			b = escaped[i] ^ s101EscapeXOR
		}
		data = append(data, b)
	}

	if len(data) < 6 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(data))
	}
	if crc16(data) != crcResidue {
		return nil, ErrBadCRC
	}
	data = data[:len(data)-2]

	if data[0] != s101Slot || data[1] != s101MessageEmber {
		return nil, fmt.Errorf("%w: slot %#x message %#x", ErrBadFrame, data[0], data[1])
	}
	msg := &s101Message{command: data[2]}
	if msg.command == s101CmdPayload {
		if len(data) < 7 {
			return nil, fmt.Errorf("%w: short payload header", ErrBadFrame)
		}
		appBytes := int(data[6])
		headerLen := 7 + appBytes
		if len(data) < headerLen {
			return nil, fmt.Errorf("%w: truncated app bytes", ErrBadFrame)
		}
		msg.payload = data[headerLen:]
	}
	return msg, nil
}

// frameScanner extracts complete S101 frames from a TCP byte stream.
type frameScanner struct {
	buf bytes.Buffer
}

// push appends stream bytes and returns all complete messages found.
// Invalid frames are skipped and returned as errors alongside any
// messages decoded after them.
func (s *frameScanner) push(data []byte) ([]*s101Message, error) {
	s.buf.Write(data)

	var (
		msgs    []*s101Message
		lastErr error
	)
	for {
		raw := s.buf.Bytes()
		start := bytes.IndexByte(raw, s101BOF)
		if start < 0 {
			s.buf.Reset()
			break
		}
		end := bytes.IndexByte(raw[start:], s101EOF)
		if end < 0 {
			// Incomplete frame; keep from BOF onward.
			rest := append([]byte(nil), raw[start:]...)
			s.buf.Reset()
			s.buf.Write(rest)
			break
		}
		end += start

		msg, err := decodeFrame(raw[start+1 : end])
		if err != nil {
			lastErr = err
		} else {
			msgs = append(msgs, msg)
		}

		rest := append([]byte(nil), raw[end+1:]...)
		s.buf.Reset()
		s.buf.Write(rest)
	}
	return msgs, lastErr
}
