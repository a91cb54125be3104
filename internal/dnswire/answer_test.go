package dnswire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeForTest(t *testing.T, msg []byte) *Query {
	t.Helper()
	q, err := DecodeQuery(msg)
	require.NoError(t, err)
	return q
}

func TestAnswerEncodeSinkholeA(t *testing.T) {
	raw := buildQuery(t, 0x1234, RDFlag, "ads.example.com", TypeA)
	q := decodeForTest(t, raw)

	out, err := Answer{Query: q, TTL: 300}.Encode(raw)
	require.NoError(t, err)

	// Header: same ID, QR=1, RA=1, RD copied, RCODE=0, one question, one answer.
	assert.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(out[0:2]))
	flags := binary.BigEndian.Uint16(out[2:4])
	assert.NotZero(t, flags&QRFlag)
	assert.NotZero(t, flags&RAFlag)
	assert.NotZero(t, flags&RDFlag)
	assert.Zero(t, flags&TCFlag)
	assert.Equal(t, RCodeNoError, RCodeFromFlags(flags))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(out[4:6]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(out[6:8]))

	// Question echoed verbatim.
	assert.Equal(t, raw[HeaderSize:q.QuestionEnd], out[HeaderSize:q.QuestionEnd])

	// Answer RR: pointer to offset 12, TYPE=A, CLASS=IN, TTL=300, RDATA 0.0.0.0.
	rr := out[q.QuestionEnd:]
	require.Len(t, rr, 16)
	assert.Equal(t, uint16(0xC00C), binary.BigEndian.Uint16(rr[0:2]))
	assert.Equal(t, uint16(TypeA), binary.BigEndian.Uint16(rr[2:4]))
	assert.Equal(t, uint16(ClassIN), binary.BigEndian.Uint16(rr[4:6]))
	assert.Equal(t, uint32(300), binary.BigEndian.Uint32(rr[6:10]))
	assert.Equal(t, uint16(4), binary.BigEndian.Uint16(rr[10:12]))
	assert.Equal(t, []byte{0, 0, 0, 0}, rr[12:16])
}

func TestAnswerEncodeSinkholeAAAA(t *testing.T) {
	raw := buildQuery(t, 0x55AA, RDFlag, "ads.example.com", TypeAAAA)
	q := decodeForTest(t, raw)

	out, err := Answer{Query: q}.Encode(raw)
	require.NoError(t, err)

	rr := out[q.QuestionEnd:]
	require.Len(t, rr, 28)
	assert.Equal(t, uint16(TypeAAAA), binary.BigEndian.Uint16(rr[2:4]))
	assert.Equal(t, uint32(DefaultAnswerTTL), binary.BigEndian.Uint32(rr[6:10]))
	assert.Equal(t, uint16(16), binary.BigEndian.Uint16(rr[10:12]))
	assert.Equal(t, make([]byte, 16), rr[12:28])
}

func TestAnswerEncodeOtherTypeEmptyRdata(t *testing.T) {
	raw := buildQuery(t, 3, RDFlag, "ads.example.com", TypeTXT)
	q := decodeForTest(t, raw)

	out, err := Answer{Query: q}.Encode(raw)
	require.NoError(t, err)

	rr := out[q.QuestionEnd:]
	require.Len(t, rr, 12)
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(rr[10:12]))
}

func TestAnswerEncodeNXDomain(t *testing.T) {
	raw := buildQuery(t, 3, RDFlag, "ads.example.com", TypeA)
	q := decodeForTest(t, raw)

	out, err := Answer{Query: q, NXDomain: true}.Encode(raw)
	require.NoError(t, err)

	flags := binary.BigEndian.Uint16(out[2:4])
	assert.Equal(t, RCodeNXDomain, RCodeFromFlags(flags))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(out[6:8]))
	assert.Len(t, out, q.QuestionEnd)
}

func TestAnswerEncodeOpcodeCopied(t *testing.T) {
	raw := buildQuery(t, 3, RDFlag|uint16(2)<<11, "ads.example.com", TypeA)
	q := decodeForTest(t, raw)
	require.Equal(t, uint8(2), q.Opcode())

	out, err := Answer{Query: q}.Encode(raw)
	require.NoError(t, err)
	flags := binary.BigEndian.Uint16(out[2:4])
	assert.Equal(t, uint16(2), (flags&OpcodeMask)>>11)
}

func TestAnswerEncodeTruncation(t *testing.T) {
	// A single legal question plus the 16-byte sinkhole RR always fits the
	// 512-byte floor, so the truncation path is exercised by inflating the
	// question region past it.
	raw := buildQuery(t, 0x0101, RDFlag, "example.com", TypeA)
	q := decodeForTest(t, raw)

	padded := append(append([]byte{}, raw...), make([]byte, 600)...)
	q.QuestionEnd = len(padded)

	out, err := Answer{Query: q}.Encode(padded)
	require.NoError(t, err)

	flags := binary.BigEndian.Uint16(out[2:4])
	assert.NotZero(t, flags&TCFlag)
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(out[6:8]), "answer section must be empty")
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(out[4:6]), "question is kept")
}

func TestAnswerEncodeBadQuestionRegion(t *testing.T) {
	raw := buildQuery(t, 1, RDFlag, "example.com", TypeA)
	q := decodeForTest(t, raw)
	q.QuestionEnd = len(raw) + 10

	_, err := Answer{Query: q}.Encode(raw)
	require.ErrorIs(t, err, ErrTooShort)
}
