package dnswire

import (
	"encoding/binary"
	"fmt"
)

// DefaultAnswerTTL is the TTL applied to synthetic answers when the caller
// does not configure one.
const DefaultAnswerTTL = 300

// questionPointer is a compression pointer to offset 12, where the echoed
// question's name starts. Reusing it keeps the answer small and matches
// what common resolvers emit.
const questionPointer = 0xC000 | HeaderSize

// Answer describes a synthetic reply for a blocked name. The question
// section is echoed verbatim from the original datagram; the single answer
// record sinkholes the queried name (A -> 0.0.0.0, AAAA -> ::, otherwise
// empty RDATA).
type Answer struct {
	Query *Query // the decoded query being answered
	TTL   uint32 // answer record TTL in seconds
	// NXDomain selects RCODE=3 with an empty answer section instead of the
	// NOERROR sinkhole record.
	NXDomain bool
}

// Encode builds the wire form of the answer. raw must be the original
// client datagram the Query was decoded from; its question section is
// copied byte for byte.
//
// The output never exceeds the client's advertised payload size (512 when
// no OPT record was present), capped at MaxUDPPayloadSize. If the full
// answer would, the TC flag is set and the answer section is dropped.
func (a Answer) Encode(raw []byte) ([]byte, error) {
	q := a.Query
	if q == nil {
		return nil, fmt.Errorf("encode answer: nil query")
	}
	if q.QuestionEnd > len(raw) || q.QuestionEnd < HeaderSize {
		return nil, fmt.Errorf("encode answer: question region [%d:%d]: %w",
			HeaderSize, q.QuestionEnd, ErrTooShort)
	}
	question := raw[HeaderSize:q.QuestionEnd]

	ttl := a.TTL
	if ttl == 0 {
		ttl = DefaultAnswerTTL
	}

	rcode := RCodeNoError
	ancount := uint16(1)
	var rdata []byte
	switch {
	case a.NXDomain:
		rcode = RCodeNXDomain
		ancount = 0
	case q.Type == TypeA:
		rdata = []byte{0, 0, 0, 0}
	case q.Type == TypeAAAA:
		rdata = make([]byte, 16)
	default:
		rdata = nil // empty RDATA for other types
	}

	flags := QRFlag | RAFlag |
		uint16(q.Opcode())<<11 |
		q.Flags&RDFlag |
		uint16(rcode)

	h := Header{
		ID:      q.ID,
		Flags:   flags,
		QDCount: 1,
		ANCount: ancount,
	}

	out := make([]byte, 0, HeaderSize+len(question)+12+len(rdata))
	out = append(out, h.Marshal()...)
	out = append(out, question...)
	if ancount > 0 {
		out = appendAnswerRecord(out, q.Type, ttl, rdata)
	}

	if len(out) > q.MaxReplySize() {
		return truncated(h, question), nil
	}
	return out, nil
}

// appendAnswerRecord appends the single sinkhole RR: a compression pointer
// to the question name, TYPE matching the question, CLASS=IN, the given TTL
// and RDATA.
func appendAnswerRecord(out []byte, typ RecordType, ttl uint32, rdata []byte) []byte {
	var fixed [12]byte
	binary.BigEndian.PutUint16(fixed[0:2], questionPointer)
	binary.BigEndian.PutUint16(fixed[2:4], uint16(typ))
	binary.BigEndian.PutUint16(fixed[4:6], uint16(ClassIN))
	binary.BigEndian.PutUint32(fixed[6:10], ttl)
	binary.BigEndian.PutUint16(fixed[10:12], uint16(len(rdata)))
	out = append(out, fixed[:]...)
	return append(out, rdata...)
}

// truncated rebuilds the reply as header+question with TC set and no
// answer records.
func truncated(h Header, question []byte) []byte {
	h.Flags |= TCFlag
	h.ANCount = 0
	out := make([]byte, 0, HeaderSize+len(question))
	out = append(out, h.Marshal()...)
	return append(out, question...)
}
