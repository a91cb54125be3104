package dnswire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Name decoding limits. A hostile message can chain compression pointers or
// inflate labels; both budgets bound the work done per name.
const (
	maxPointerHops = 32  // Maximum compression pointer indirections per name
	maxNameBytes   = 255 // Maximum encoded name length (RFC 1035 Section 2.3.4)
	maxLabelBytes  = 63  // Maximum single label length
)

// NormalizeName returns a lowercase DNS name without trailing dots.
// DNS domain names are case-insensitive per RFC 1035 Section 3.1.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// DecodeName decodes a possibly-compressed DNS name from wire format.
//
// DNS name compression (RFC 1035 Section 4.1.4) uses pointers to reduce
// message size. A compression pointer is identified by the two high bits
// of a label length byte being set (11xxxxxx pattern = 0xC0). The pointer
// value is a 14-bit offset from the start of the message.
//
// This function reads from msg starting at *off, advancing *off past the
// encoded name (including any compression pointer bytes).
//
// Returns the labels in on-wire order plus a flag reporting whether any
// label contained bytes outside the hostname alphabet (letters of either
// case, digits, hyphen, underscore). Such
// labels are legal on the wire and are returned as-is; the flag lets the
// caller decide how to treat them.
//
// Termination is bounded: at most maxPointerHops indirections are followed
// and the accumulated name may not exceed maxNameBytes, so decoding always
// finishes in bounded time regardless of input.
func DecodeName(msg []byte, off *int) ([]string, bool, error) {
	labels := make([]string, 0, 6)
	flagged := false
	nameLen := 0
	hops := 0

	pos := *off
	// endPos tracks where the name ends in the original stream; it is fixed
	// the first time a pointer is followed.
	endPos := -1

	for {
		if pos < 0 || pos >= len(msg) {
			return nil, false, fmt.Errorf("name at offset %d: %w", pos, ErrTooShort)
		}
		b := msg[pos]

		switch {
		case b == 0:
			// Root label terminates the name.
			if endPos < 0 {
				endPos = pos + 1
			}
			*off = endPos
			return labels, flagged, nil

		case b&0xC0 == 0xC0:
			// Compression pointer: 14-bit absolute offset.
			if pos+2 > len(msg) {
				return nil, false, fmt.Errorf("pointer at offset %d: %w", pos, ErrTooShort)
			}
			hops++
			if hops > maxPointerHops {
				return nil, false, fmt.Errorf("name at offset %d: %w", *off, ErrPointerLoop)
			}
			target := int(binary.BigEndian.Uint16(msg[pos:pos+2]) & 0x3FFF)
			if target >= len(msg) {
				return nil, false, fmt.Errorf("pointer to offset %d: %w", target, ErrBadPointer)
			}
			if endPos < 0 {
				endPos = pos + 2
			}
			pos = target

		case b&0xC0 != 0:
			// 01 and 10 label types are reserved (RFC 1035).
			return nil, false, fmt.Errorf("label at offset %d: %w", pos, ErrBadLabel)

		default:
			length := int(b)
			if length > maxLabelBytes {
				return nil, false, fmt.Errorf("label at offset %d: %w", pos, ErrLabelOverflow)
			}
			if pos+1+length > len(msg) {
				return nil, false, fmt.Errorf("label at offset %d: %w", pos, ErrTooShort)
			}
			nameLen += length + 1
			if nameLen+1 > maxNameBytes {
				return nil, false, fmt.Errorf("name at offset %d: %w", *off, ErrLabelOverflow)
			}
			label := msg[pos+1 : pos+1+length]
			if !isHostnameLabel(label) {
				flagged = true
			}
			labels = append(labels, string(label))
			pos += 1 + length
		}
	}
}

// SkipName advances *off past an encoded name without decoding it.
// A compression pointer ends the name after its two bytes.
func SkipName(msg []byte, off *int) error {
	pos := *off
	for {
		if pos >= len(msg) {
			return fmt.Errorf("name at offset %d: %w", *off, ErrTooShort)
		}
		b := msg[pos]
		switch {
		case b == 0:
			*off = pos + 1
			return nil
		case b&0xC0 == 0xC0:
			if pos+2 > len(msg) {
				return fmt.Errorf("pointer at offset %d: %w", pos, ErrTooShort)
			}
			*off = pos + 2
			return nil
		case b&0xC0 != 0:
			return fmt.Errorf("label at offset %d: %w", pos, ErrBadLabel)
		default:
			pos += 1 + int(b)
		}
	}
}

// EncodeName encodes a domain name to DNS wire format (RFC 1035 Section 3.1):
// a sequence of length-prefixed labels terminated by a zero-length label.
func EncodeName(domain string) ([]byte, error) {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return []byte{0}, nil // root
	}

	out := make([]byte, 0, len(domain)+2)
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return nil, fmt.Errorf("empty label in %q: %w", domain, ErrBadLabel)
		}
		if len(label) > maxLabelBytes {
			return nil, fmt.Errorf("label %q: %w", label, ErrLabelOverflow)
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)
	if len(out) > maxNameBytes {
		return nil, fmt.Errorf("name %q: %w", domain, ErrLabelOverflow)
	}
	return out, nil
}

// JoinLabels concatenates name labels with dots, lowercased, for lookups.
func JoinLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	total := len(labels) - 1
	for _, l := range labels {
		total += len(l)
	}
	var b strings.Builder
	b.Grow(total)
	for i, l := range labels {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(l)
	}
	return strings.ToLower(b.String())
}

// isHostnameLabel reports whether every byte falls in the conventional
// hostname alphabet (letters, digits, hyphen, underscore).
func isHostnameLabel(label []byte) bool {
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
