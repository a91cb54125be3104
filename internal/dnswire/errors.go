// Package dnswire implements the DNS wire format subset needed to route and
// answer queries: header and question decoding, compressed name handling,
// OPT pseudo-record recognition, and synthetic answer encoding.
//
// Standards Compliance:
//
//   - RFC 1035: Domain Names - Implementation and Specification
//   - RFC 3596: DNS Extensions to Support IPv6 (AAAA records)
//   - RFC 6891: Extension Mechanisms for DNS (OPT records)
//
// Error Handling:
//
// Decode failures are sentinel errors wrapped with context using
// fmt.Errorf("...: %w", err). Callers classify them with errors.Is or the
// ErrorKind helper when emitting structured log records.
package dnswire

import "errors"

var (
	// ErrTooShort indicates the datagram is smaller than the region being read.
	ErrTooShort = errors.New("dns message too short")

	// ErrLabelOverflow indicates a name exceeding the 63-byte label or
	// 255-byte total name limits.
	ErrLabelOverflow = errors.New("dns name length limit exceeded")

	// ErrPointerLoop indicates a compression pointer chain that loops or
	// exceeds the hop budget.
	ErrPointerLoop = errors.New("dns compression pointer loop")

	// ErrBadPointer indicates a compression pointer outside the message.
	ErrBadPointer = errors.New("dns compression pointer out of bounds")

	// ErrBadLabel indicates a label byte pattern reserved by RFC 1035.
	ErrBadLabel = errors.New("dns label uses reserved encoding")
)

// ErrorKind maps a decode error to a stable name for log attributes.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTooShort):
		return "TooShort"
	case errors.Is(err, ErrLabelOverflow):
		return "LabelOverflow"
	case errors.Is(err, ErrPointerLoop):
		return "PointerLoop"
	case errors.Is(err, ErrBadPointer):
		return "BadPointer"
	case errors.Is(err, ErrBadLabel):
		return "BadLabel"
	default:
		return "DecodeError"
	}
}
