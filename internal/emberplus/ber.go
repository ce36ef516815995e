package emberplus

import (
	"fmt"
)

// Universal BER tags used by the Glow subset.
const (
	berBoolean     = 0x01
	berInteger     = 0x02
	berUTF8String  = 0x0C
	berRelativeOID = 0x0D
	berSequence    = 0x30
	berSet         = 0x31
)

// tag constructors. All Glow application and context tags are
// constructed and below 31, so single-byte identifiers suffice.

func applicationTag(number int) byte {
	return 0x60 | byte(number)
}

func contextTag(number int) byte {
	return 0xA0 | byte(number)
}

// tlv serialises one tag-length-value triple with definite length.
func tlv(tag byte, content []byte) []byte {
	out := make([]byte, 0, 2+len(content))
	out = append(out, tag)
	out = appendLength(out, len(content))
	return append(out, content...)
}

func appendLength(out []byte, n int) []byte {
	if n < 0x80 {
		return append(out, byte(n))
	}
	var tmp [8]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte(n)
		n >>= 8
	}
	out = append(out, 0x80|byte(len(tmp)-i))
	return append(out, tmp[i:]...)
}

// berEncodeInt encodes a two's-complement integer in the minimal
// number of octets.
func berEncodeInt(v int64) []byte {
	out := make([]byte, 8)
	for i := range out {
		out[i] = byte(v >> (8 * (7 - i)))
	}
	// Trim redundant leading octets while the sign is preserved.
	i := 0
	for i < 7 {
		if out[i] == 0x00 && out[i+1]&0x80 == 0 {
			i++
			continue
		}
		if out[i] == 0xFF && out[i+1]&0x80 != 0 {
			i++
			continue
		}
		break
	}
	return out[i:]
}

func berEncodeBool(v bool) []byte {
	if v {
		return []byte{0xFF}
	}
	return []byte{0x00}
}

// berEncodeOID encodes a relative object identifier: one base-128
// chunk per subidentifier.
func berEncodeOID(path []int) []byte {
	var out []byte
	for _, sub := range path {
		out = appendBase128(out, sub)
	}
	return out
}

func appendBase128(out []byte, v int) []byte {
	var tmp [8]byte
	i := len(tmp)
	i--
	tmp[i] = byte(v & 0x7F)
	v >>= 7
	for v > 0 {
		i--
		tmp[i] = byte(v&0x7F) | 0x80
		v >>= 7
	}
	return append(out, tmp[i:]...)
}

// berReader iterates the TLVs of a constructed value.
type berReader struct {
	data []byte
	off  int
}

func (r *berReader) more() bool {
	return r.off < len(r.data)
}

// next reads one TLV and returns its tag and content.
func (r *berReader) next() (byte, []byte, error) {
	if r.off >= len(r.data) {
		return 0, nil, fmt.Errorf("emberplus: ber read past end")
	}
	tag := r.data[r.off]
	r.off++
	if tag&0x1F == 0x1F {
		return 0, nil, fmt.Errorf("emberplus: multi-byte ber tags unsupported")
	}

	if r.off >= len(r.data) {
		return 0, nil, fmt.Errorf("emberplus: ber truncated length")
	}
	first := r.data[r.off]
	r.off++

	length := int(first)
	if first&0x80 != 0 {
		n := int(first & 0x7F)
		if n == 0 || n > 4 || r.off+n > len(r.data) {
			return 0, nil, fmt.Errorf("emberplus: ber bad long-form length")
		}
		length = 0
		for i := 0; i < n; i++ {
			length = length<<8 | int(r.data[r.off+i])
		}
		r.off += n
	}

	if r.off+length > len(r.data) {
		return 0, nil, fmt.Errorf("emberplus: ber content overruns buffer")
	}
	content := r.data[r.off : r.off+length]
	r.off += length
	return tag, content, nil
}

func berDecodeInt(content []byte) (int64, error) {
	if len(content) == 0 || len(content) > 8 {
		return 0, fmt.Errorf("emberplus: ber integer of %d octets", len(content))
	}
	v := int64(int8(content[0]))
	for _, b := range content[1:] {
		v = v<<8 | int64(b)
	}
	return v, nil
}

func berDecodeBool(content []byte) (bool, error) {
	if len(content) != 1 {
		return false, fmt.Errorf("emberplus: ber boolean of %d octets", len(content))
	}
	return content[0] != 0, nil
}

func berDecodeOID(content []byte) ([]int, error) {
	var path []int
	v := 0
	pending := false
	for _, b := range content {
		v = v<<7 | int(b&0x7F)
		pending = true
		if b&0x80 == 0 {
			path = append(path, v)
			v = 0
			pending = false
		}
	}
	if pending {
		return nil, fmt.Errorf("emberplus: ber truncated oid")
	}
	return path, nil
}
