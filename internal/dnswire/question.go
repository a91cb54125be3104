package dnswire

import (
	"encoding/binary"
	"fmt"
)

// Query is a decoded DNS query: the header plus the first question, with the
// client's advertised EDNS payload size when an OPT pseudo-record is present.
// Queries are immutable once decoded.
type Query struct {
	Header

	Labels []string    // qname labels in on-wire order
	Type   RecordType  // QTYPE
	Class  RecordClass // QCLASS

	// UDPSize is the requestor's advertised UDP payload size from an OPT
	// record in the additional section, or 0 when absent.
	UDPSize uint16

	// QuestionEnd is the offset one past the question section's QCLASS.
	// The bytes msg[HeaderSize:QuestionEnd] are the verbatim question.
	QuestionEnd int

	// FlaggedLabels reports qname labels containing bytes outside the
	// hostname alphabet. The labels are retained unmodified.
	FlaggedLabels bool

	// Trailing counts bytes after the parsed region. They are ignored.
	Trailing int
}

// Name returns the lowercase dot-joined qname.
func (q *Query) Name() string { return JoinLabels(q.Labels) }

// MaxReplySize returns the largest reply the client can accept: the
// advertised EDNS payload size when present (at least 512), otherwise the
// traditional 512-byte limit, hard-capped at MaxUDPPayloadSize.
func (q *Query) MaxReplySize() int {
	size := int(q.UDPSize)
	if size < DefaultUDPPayloadSize {
		size = DefaultUDPPayloadSize
	}
	return min(size, MaxUDPPayloadSize)
}

// PeekID reads the transaction ID from the first two bytes of a datagram
// without a full decode. Used on the upstream path where the payload is
// relayed unchanged.
func PeekID(msg []byte) (uint16, error) {
	if len(msg) < 2 {
		return 0, fmt.Errorf("peek id: %w", ErrTooShort)
	}
	return binary.BigEndian.Uint16(msg[0:2]), nil
}

// DecodeQuery decodes a client datagram into a Query.
//
// The decoder is total over arbitrary input: any byte slice yields either a
// Query or an error, never a panic. Work per message is bounded by the name
// decoding budgets and the message length.
//
// The question section must hold at least one question; only the first is
// retained. Answer and authority records are skipped. The additional
// section is scanned for an OPT pseudo-record (TYPE=41, root owner name);
// its class field is recorded as the requestor's UDP payload size, its
// options are not retained. Bytes beyond the parsed region are counted and
// ignored.
func DecodeQuery(msg []byte) (*Query, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return nil, err
	}
	if h.QDCount == 0 {
		return nil, fmt.Errorf("no question section: %w", ErrTooShort)
	}

	labels, flagged, err := DecodeName(msg, &off)
	if err != nil {
		return nil, err
	}
	if off+4 > len(msg) {
		return nil, fmt.Errorf("question at offset %d: %w", off, ErrTooShort)
	}
	q := &Query{
		Header:        h,
		Labels:        labels,
		Type:          RecordType(binary.BigEndian.Uint16(msg[off : off+2])),
		Class:         RecordClass(binary.BigEndian.Uint16(msg[off+2 : off+4])),
		FlaggedLabels: flagged,
	}
	off += 4
	q.QuestionEnd = off

	// Remaining questions and the answer/authority sections are skipped;
	// a query should not carry them but tolerating them costs little.
	skip := int(h.QDCount) - 1
	for range skip {
		if err := skipQuestion(msg, &off); err != nil {
			// Keep the first question; count the rest as trailing.
			q.Trailing = len(msg) - off
			return q, nil
		}
	}
	records := int(h.ANCount) + int(h.NSCount)
	for range records {
		if err := skipRecord(msg, &off); err != nil {
			q.Trailing = len(msg) - off
			return q, nil
		}
	}

	// Additional section: find the OPT pseudo-record.
	for range h.ARCount {
		size, ok := parseOptRecord(msg, &off)
		if !ok {
			break
		}
		if size > 0 {
			q.UDPSize = size
		}
	}

	q.Trailing = len(msg) - off
	return q, nil
}

func skipQuestion(msg []byte, off *int) error {
	if err := SkipName(msg, off); err != nil {
		return err
	}
	if *off+4 > len(msg) {
		return fmt.Errorf("question at offset %d: %w", *off, ErrTooShort)
	}
	*off += 4
	return nil
}

// skipRecord advances past one resource record without retaining it.
func skipRecord(msg []byte, off *int) error {
	if err := SkipName(msg, off); err != nil {
		return err
	}
	// TYPE(2) CLASS(2) TTL(4) RDLENGTH(2)
	if *off+10 > len(msg) {
		return fmt.Errorf("record at offset %d: %w", *off, ErrTooShort)
	}
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8 : *off+10]))
	*off += 10
	if *off+rdlen > len(msg) {
		return fmt.Errorf("rdata at offset %d: %w", *off, ErrTooShort)
	}
	*off += rdlen
	return nil
}

// parseOptRecord reads one additional-section record. If it is an OPT
// pseudo-record (root owner name and TYPE=41), the class field is returned
// as the requestor's UDP payload size. Returns ok=false when the record is
// malformed and scanning should stop.
func parseOptRecord(msg []byte, off *int) (uint16, bool) {
	if *off >= len(msg) {
		return 0, false
	}
	isRoot := msg[*off] == 0
	if err := SkipName(msg, off); err != nil {
		return 0, false
	}
	if *off+10 > len(msg) {
		return 0, false
	}
	typ := RecordType(binary.BigEndian.Uint16(msg[*off : *off+2]))
	class := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8 : *off+10]))
	*off += 10
	if *off+rdlen > len(msg) {
		return 0, false
	}
	*off += rdlen

	// A first-byte zero test alone would also match a root-owned record of
	// any type; the TYPE=41 check is required.
	if isRoot && typ == TypeOPT {
		return class, true
	}
	return 0, true
}
