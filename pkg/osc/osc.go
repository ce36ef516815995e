// Package osc implements the subset of OSC 1.0 spoken by CasparCG:
// messages carrying the standard scalar argument types, and #bundle
// containers with arbitrary nesting.
package osc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

const bundleAddress = "#bundle"

// TimetagImmediate is the OSC timetag meaning "process immediately".
const TimetagImmediate uint64 = 1

var (
	// ErrTruncated is returned when a packet ends mid-field.
	ErrTruncated = errors.New("osc: truncated packet")
	// ErrMalformed is returned for structurally invalid packets.
	ErrMalformed = errors.New("osc: malformed packet")
)

// Message is a single OSC message: an address pattern plus arguments.
type Message struct {
	Address   string
	Arguments []any
}

// Bundle groups messages and nested bundles under one timetag.
type Bundle struct {
	Timetag  uint64
	Elements []any
}

// Parse decodes a UDP payload into a *Message or a *Bundle.
func Parse(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, ErrTruncated
	}
	switch data[0] {
	case '#':
		return parseBundle(data)
	case '/':
		return parseMessage(data)
	default:
		return nil, fmt.Errorf("%w: packet starts with %#x, want '/' or '#'", ErrMalformed, data[0])
	}
}

func parseMessage(data []byte) (*Message, error) {
	r := reader{data: data}
	addr, err := r.readString()
	if err != nil {
		return nil, err
	}
	msg := &Message{Address: addr}
	if r.remaining() == 0 {
		return msg, nil
	}

	tags, err := r.readString()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(tags, ",") {
		return nil, fmt.Errorf("%w: type tag string %q does not start with ','", ErrMalformed, tags)
	}

	msg.Arguments = make([]any, 0, len(tags)-1)
	for _, tag := range tags[1:] {
		var v any
		switch tag {
		case 'i':
			v, err = r.readInt32()
		case 'f':
			v, err = r.readFloat32()
		case 's', 'S':
			v, err = r.readString()
		case 'b':
			v, err = r.readBlob()
		case 'h':
			v, err = r.readInt64()
		case 't':
			v, err = r.readUint64()
		case 'd':
			v, err = r.readFloat64()
		case 'T':
			v = true
		case 'F':
			v = false
		case 'N':
			v = nil
		default:
			return nil, fmt.Errorf("%w: unsupported type tag %q in %s", ErrMalformed, tag, addr)
		}
		if err != nil {
			return nil, err
		}
		msg.Arguments = append(msg.Arguments, v)
	}
	return msg, nil
}

func parseBundle(data []byte) (*Bundle, error) {
	r := reader{data: data}
	addr, err := r.readString()
	if err != nil {
		return nil, err
	}
	if addr != bundleAddress {
		return nil, fmt.Errorf("%w: bundle address %q", ErrMalformed, addr)
	}
	tt, err := r.readUint64()
	if err != nil {
		return nil, err
	}

	b := &Bundle{Timetag: tt}
	for r.remaining() > 0 {
		size, err := r.readInt32()
		if err != nil {
			return nil, err
		}
		if size < 0 || int(size) > r.remaining() {
			return nil, ErrTruncated
		}
		elem, err := Parse(r.take(int(size)))
		if err != nil {
			return nil, err
		}
		b.Elements = append(b.Elements, elem)
	}
	return b, nil
}

// String renders the message compactly for trace logging.
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.Address)
	for _, a := range m.Arguments {
		fmt.Fprintf(&sb, " %v", a)
	}
	return sb.String()
}

// Encode serialises the message to its wire form. Supported argument
// types: int, int32, int64, float32, float64, string, []byte, bool and
// nil.
func (m *Message) Encode() ([]byte, error) {
	if !strings.HasPrefix(m.Address, "/") {
		return nil, fmt.Errorf("%w: address %q must start with '/'", ErrMalformed, m.Address)
	}
	var buf bytes.Buffer
	writeString(&buf, m.Address)

	tags := make([]byte, 0, len(m.Arguments)+1)
	tags = append(tags, ',')
	var payload bytes.Buffer
	for i, arg := range m.Arguments {
		switch v := arg.(type) {
		case int:
			tags = append(tags, 'i')
			writeUint32(&payload, uint32(int32(v)))
		case int32:
			tags = append(tags, 'i')
			writeUint32(&payload, uint32(v))
		case int64:
			tags = append(tags, 'h')
			writeUint64(&payload, uint64(v))
		case float32:
			tags = append(tags, 'f')
			writeUint32(&payload, math.Float32bits(v))
		case float64:
			tags = append(tags, 'd')
			writeUint64(&payload, math.Float64bits(v))
		case string:
			tags = append(tags, 's')
			writeString(&payload, v)
		case []byte:
			tags = append(tags, 'b')
			writeUint32(&payload, uint32(len(v)))
			payload.Write(v)
			pad(&payload)
		case bool:
			if v {
				tags = append(tags, 'T')
			} else {
				tags = append(tags, 'F')
			}
		case nil:
			tags = append(tags, 'N')
		default:
			return nil, fmt.Errorf("%w: unsupported argument %d type %T", ErrMalformed, i, arg)
		}
	}
	writeString(&buf, string(tags))
	buf.Write(payload.Bytes())
	return buf.Bytes(), nil
}

// Encode serialises the bundle and its elements to wire form.
func (b *Bundle) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, bundleAddress)
	writeUint64(&buf, b.Timetag)

	for i, elem := range b.Elements {
		var (
			raw []byte
			err error
		)
		switch e := elem.(type) {
		case *Message:
			raw, err = e.Encode()
		case *Bundle:
			raw, err = e.Encode()
		default:
			return nil, fmt.Errorf("%w: bundle element %d type %T", ErrMalformed, i, elem)
		}
		if err != nil {
			return nil, err
		}
		writeUint32(&buf, uint32(len(raw)))
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

// reader walks a packet; all OSC fields begin 4-aligned.
type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) take(n int) []byte {
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) readString() (string, error) {
	idx := bytes.IndexByte(r.data[r.off:], 0)
	if idx < 0 {
		return "", ErrTruncated
	}
	s := string(r.data[r.off : r.off+idx])
	next := align4(r.off + idx + 1)
	if next > len(r.data) {
		return "", ErrTruncated
	}
	r.off = next
	return s, nil
}

func (r *reader) readBlob() ([]byte, error) {
	n, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > r.remaining() {
		return nil, ErrTruncated
	}
	b := make([]byte, n)
	copy(b, r.take(int(n)))
	next := align4(r.off)
	if next > len(r.data) {
		return nil, ErrTruncated
	}
	r.off = next
	return b, nil
}

func (r *reader) readInt32() (int32, error) {
	v, err := r.readUint32()
	return int32(v), err
}

func (r *reader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint32(r.take(4)), nil
}

func (r *reader) readInt64() (int64, error) {
	v, err := r.readUint64()
	return int64(v), err
}

func (r *reader) readUint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint64(r.take(8)), nil
}

func (r *reader) readFloat32() (float32, error) {
	v, err := r.readUint32()
	return math.Float32frombits(v), err
}

func (r *reader) readFloat64() (float64, error) {
	v, err := r.readUint64()
	return math.Float64frombits(v), err
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
	pad(buf)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func pad(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func align4(n int) int {
	return (n + 3) &^ 3
}
