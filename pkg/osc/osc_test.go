package osc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncode_WireFormat(t *testing.T) {
	msg := &Message{Address: "/foo", Arguments: []any{int32(1)}}
	raw, err := msg.Encode()
	require.NoError(t, err)

	expected := []byte{
		0x2F, 0x66, 0x6F, 0x6F, 0x00, 0x00, 0x00, 0x00, // "/foo" padded
		0x2C, 0x69, 0x00, 0x00, // ",i" padded
		0x00, 0x00, 0x00, 0x01, // int32 1
	}
	assert.Equal(t, expected, raw)
}

func TestParseMessage_AllArgumentTypes(t *testing.T) {
	msg := &Message{
		Address: "/channel/1/stage/layer/10/file/frame",
		Arguments: []any{
			int32(-7),
			int64(250),
			float32(1.5),
			float64(29.97),
			"show.mov",
			[]byte{0x01, 0x02, 0x03},
			true,
			false,
			nil,
		},
	}
	raw, err := msg.Encode()
	require.NoError(t, err)
	require.Zero(t, len(raw)%4, "packet must be 4-aligned")

	parsed, err := Parse(raw)
	require.NoError(t, err)
	got, ok := parsed.(*Message)
	require.True(t, ok)

	assert.Equal(t, msg.Address, got.Address)
	require.Len(t, got.Arguments, 9)
	assert.Equal(t, int32(-7), got.Arguments[0])
	assert.Equal(t, int64(250), got.Arguments[1])
	assert.Equal(t, float32(1.5), got.Arguments[2])
	assert.Equal(t, float64(29.97), got.Arguments[3])
	assert.Equal(t, "show.mov", got.Arguments[4])
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got.Arguments[5])
	assert.Equal(t, true, got.Arguments[6])
	assert.Equal(t, false, got.Arguments[7])
	assert.Nil(t, got.Arguments[8])
}

func TestParseMessage_StringPadding(t *testing.T) {
	// "abc" occupies exactly four bytes with its terminator; "abcd"
	// needs a full pad word.
	for _, s := range []string{"abc", "abcd", "", "abcdefg"} {
		msg := &Message{Address: "/s", Arguments: []any{s}}
		raw, err := msg.Encode()
		require.NoError(t, err)

		parsed, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, s, parsed.(*Message).Arguments[0])
	}
}

func TestParseMessage_IntPromotion(t *testing.T) {
	msg := &Message{Address: "/n", Arguments: []any{42}}
	raw, err := msg.Encode()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, int32(42), parsed.(*Message).Arguments[0])
}

func TestParseMessage_NoArguments(t *testing.T) {
	// Address only, no type tag string at all.
	raw := []byte{0x2F, 0x61, 0x00, 0x00} // "/a"
	parsed, err := Parse(raw)
	require.NoError(t, err)
	msg := parsed.(*Message)
	assert.Equal(t, "/a", msg.Address)
	assert.Empty(t, msg.Arguments)
}

func TestParseBundle_Nested(t *testing.T) {
	inner := &Bundle{
		Timetag: TimetagImmediate,
		Elements: []any{
			&Message{Address: "/channel/1/stage/layer/10/paused", Arguments: []any{false}},
		},
	}
	outer := &Bundle{
		Timetag: TimetagImmediate,
		Elements: []any{
			&Message{Address: "/channel/1/stage/layer/10/file/frame", Arguments: []any{int64(250), int64(1000)}},
			inner,
		},
	}
	raw, err := outer.Encode()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	b, ok := parsed.(*Bundle)
	require.True(t, ok)
	require.Len(t, b.Elements, 2)

	first, ok := b.Elements[0].(*Message)
	require.True(t, ok)
	assert.Equal(t, "/channel/1/stage/layer/10/file/frame", first.Address)
	assert.Equal(t, []any{int64(250), int64(1000)}, first.Arguments)

	nested, ok := b.Elements[1].(*Bundle)
	require.True(t, ok)
	require.Len(t, nested.Elements, 1)
	assert.Equal(t, false, nested.Elements[0].(*Message).Arguments[0])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad leading byte", []byte{0x41, 0x00, 0x00, 0x00}},
		{"unterminated address", []byte{0x2F, 0x61, 0x62, 0x63}},
		{"truncated int argument", []byte{
			0x2F, 0x61, 0x00, 0x00, // "/a"
			0x2C, 0x69, 0x00, 0x00, // ",i"
			0x00, 0x00, // two bytes of a four-byte int
		}},
		{"bad type tag prefix", []byte{
			0x2F, 0x61, 0x00, 0x00, // "/a"
			0x69, 0x00, 0x00, 0x00, // "i" without leading comma
		}},
		{"bundle with oversized element", []byte{
			0x23, 0x62, 0x75, 0x6E, 0x64, 0x6C, 0x65, 0x00, // "#bundle"
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, // timetag
			0x00, 0x00, 0x10, 0x00, // claims 4096 bytes
			0x2F, 0x61, 0x00, 0x00,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
		})
	}
}

func TestParse_UnsupportedTypeTag(t *testing.T) {
	raw := []byte{
		0x2F, 0x61, 0x00, 0x00, // "/a"
		0x2C, 0x5B, 0x00, 0x00, // ",[" array open, unsupported
	}
	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestMessageString(t *testing.T) {
	msg := &Message{Address: "/channel/1/stage/layer/10/file/fps", Arguments: []any{float64(50)}}
	assert.Equal(t, "/channel/1/stage/layer/10/file/fps 50", msg.String())
}
