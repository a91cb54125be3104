package dnswire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildQuery assembles a well-formed query datagram for tests.
func buildQuery(t *testing.T, id uint16, flags uint16, name string, qtype RecordType) []byte {
	t.Helper()
	encoded, err := EncodeName(name)
	require.NoError(t, err)

	h := Header{ID: id, Flags: flags, QDCount: 1}
	out := h.Marshal()
	out = append(out, encoded...)
	var qt [4]byte
	binary.BigEndian.PutUint16(qt[0:2], uint16(qtype))
	binary.BigEndian.PutUint16(qt[2:4], uint16(ClassIN))
	return append(out, qt[:]...)
}

// appendOpt appends an OPT pseudo-record advertising the given payload size
// and bumps ARCOUNT.
func appendOpt(msg []byte, payloadSize uint16) []byte {
	binary.BigEndian.PutUint16(msg[10:12], binary.BigEndian.Uint16(msg[10:12])+1)
	opt := make([]byte, 11)
	opt[0] = 0 // root owner name
	binary.BigEndian.PutUint16(opt[1:3], uint16(TypeOPT))
	binary.BigEndian.PutUint16(opt[3:5], payloadSize)
	// TTL (extended rcode/version/flags) and RDLENGTH left zero
	return append(msg, opt...)
}

func TestDecodeQuery(t *testing.T) {
	msg := buildQuery(t, 0x1234, RDFlag, "ads.example.com", TypeA)

	q, err := DecodeQuery(msg)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x1234), q.ID)
	assert.True(t, q.IsQuery())
	assert.Equal(t, uint8(0), q.Opcode())
	assert.False(t, q.Truncated())
	assert.True(t, q.RecursionDesired())
	assert.Equal(t, uint16(1), q.QDCount)
	assert.Equal(t, []string{"ads", "example", "com"}, q.Labels)
	assert.Equal(t, "ads.example.com", q.Name())
	assert.Equal(t, TypeA, q.Type)
	assert.Equal(t, ClassIN, q.Class)
	assert.Equal(t, len(msg), q.QuestionEnd)
	assert.Equal(t, uint16(0), q.UDPSize)
	assert.Zero(t, q.Trailing)
}

func TestDecodeQueryErrors(t *testing.T) {
	tests := []struct {
		name    string
		msg     []byte
		wantErr error
	}{
		{
			name:    "three byte datagram",
			msg:     []byte{0x12, 0x34, 0x00},
			wantErr: ErrTooShort,
		},
		{
			name:    "header only",
			msg:     make([]byte, HeaderSize),
			wantErr: ErrTooShort, // QDCOUNT=0
		},
		{
			name: "question name runs past end",
			msg: func() []byte {
				h := Header{ID: 1, QDCount: 1}
				return append(h.Marshal(), 9, 'a', 'b')
			}(),
			wantErr: ErrTooShort,
		},
		{
			name: "missing qtype and qclass",
			msg: func() []byte {
				h := Header{ID: 1, QDCount: 1}
				return append(h.Marshal(), 1, 'a', 0)
			}(),
			wantErr: ErrTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeQuery(tt.msg)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeQueryRoundTrip(t *testing.T) {
	// The question region reported by the decoder must reproduce the input
	// bytes between the header and the question end.
	msg := buildQuery(t, 0xBEEF, RDFlag, "www.allowed.test", TypeAAAA)
	q, err := DecodeQuery(msg)
	require.NoError(t, err)

	encoded, err := EncodeName(q.Name())
	require.NoError(t, err)
	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], uint16(q.Type))
	binary.BigEndian.PutUint16(tail[2:4], uint16(q.Class))
	rebuilt := append(encoded, tail[:]...)

	assert.Equal(t, msg[HeaderSize:q.QuestionEnd], rebuilt)
}

func TestDecodeQueryOpt(t *testing.T) {
	t.Run("payload size recorded", func(t *testing.T) {
		msg := appendOpt(buildQuery(t, 7, RDFlag, "example.com", TypeA), 1232)
		q, err := DecodeQuery(msg)
		require.NoError(t, err)
		assert.Equal(t, uint16(1232), q.UDPSize)
		assert.Equal(t, 1232, q.MaxReplySize())
	})

	t.Run("non-opt additional ignored", func(t *testing.T) {
		msg := buildQuery(t, 7, RDFlag, "example.com", TypeA)
		binary.BigEndian.PutUint16(msg[10:12], 1)
		// A root-owned A record: first byte zero but TYPE != 41.
		rr := make([]byte, 11)
		binary.BigEndian.PutUint16(rr[1:3], uint16(TypeA))
		binary.BigEndian.PutUint16(rr[3:5], 4096)
		msg = append(msg, rr...)

		q, err := DecodeQuery(msg)
		require.NoError(t, err)
		assert.Equal(t, uint16(0), q.UDPSize)
		assert.Equal(t, DefaultUDPPayloadSize, q.MaxReplySize())
	})
}

func TestDecodeQueryTrailingGarbage(t *testing.T) {
	msg := buildQuery(t, 9, RDFlag, "example.com", TypeA)
	msg = append(msg, 0xDE, 0xAD, 0xBE, 0xEF)

	q, err := DecodeQuery(msg)
	require.NoError(t, err)
	assert.Equal(t, 4, q.Trailing)
}

func TestPeekID(t *testing.T) {
	id, err := PeekID([]byte{0xBE, 0xEF, 0x01})
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), id)

	_, err = PeekID([]byte{0x01})
	require.ErrorIs(t, err, ErrTooShort)
}

func TestMaxReplySizeCaps(t *testing.T) {
	q := &Query{UDPSize: 65000}
	assert.Equal(t, MaxUDPPayloadSize, q.MaxReplySize())

	q = &Query{UDPSize: 100} // below the RFC floor
	assert.Equal(t, DefaultUDPPayloadSize, q.MaxReplySize())
}
