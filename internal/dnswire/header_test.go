package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMarshalParse(t *testing.T) {
	h := Header{
		ID:      0xABCD,
		Flags:   QRFlag | RDFlag | RAFlag,
		QDCount: 1,
		ANCount: 2,
		NSCount: 3,
		ARCount: 4,
	}

	b := h.Marshal()
	require.Len(t, b, HeaderSize)

	off := 0
	got, err := ParseHeader(b, &off)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, HeaderSize, off)
}

func TestParseHeaderTooShort(t *testing.T) {
	off := 0
	_, err := ParseHeader(make([]byte, 11), &off)
	require.ErrorIs(t, err, ErrTooShort)
}

func TestHeaderFlagAccessors(t *testing.T) {
	tests := []struct {
		name  string
		flags uint16
		check func(t *testing.T, h Header)
	}{
		{
			name:  "query with RD",
			flags: RDFlag,
			check: func(t *testing.T, h Header) {
				assert.True(t, h.IsQuery())
				assert.True(t, h.RecursionDesired())
				assert.False(t, h.Truncated())
				assert.Equal(t, uint8(0), h.Opcode())
			},
		},
		{
			name:  "response",
			flags: QRFlag,
			check: func(t *testing.T, h Header) {
				assert.False(t, h.IsQuery())
			},
		},
		{
			name:  "status opcode",
			flags: uint16(2) << 11,
			check: func(t *testing.T, h Header) {
				assert.Equal(t, uint8(2), h.Opcode())
			},
		},
		{
			name:  "truncated",
			flags: TCFlag,
			check: func(t *testing.T, h Header) {
				assert.True(t, h.Truncated())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Header{Flags: tt.flags})
		})
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrTooShort, "TooShort"},
		{ErrLabelOverflow, "LabelOverflow"},
		{ErrPointerLoop, "PointerLoop"},
		{ErrBadPointer, "BadPointer"},
		{ErrBadLabel, "BadLabel"},
		{assert.AnError, "DecodeError"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}
