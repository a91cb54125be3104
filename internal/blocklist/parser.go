package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Parse reads a blocklist and returns the sealed Set.
//
// Each line holds one rule. Empty lines and lines starting with '!', '#',
// or '[' (adblock section headers) are skipped. Three rule shapes are
// recognized per line:
//   - adblock filters: "||domain^" (with optional $options); rules that
//     cannot be reduced to a host suffix are discarded
//   - hosts entries: "0.0.0.0 domain" / "127.0.0.1 domain"
//   - plain domains, optionally with a "*." wildcard prefix
//
// Returns the set together with the number of lines skipped as
// unparseable, so callers can log coverage.
func Parse(r io.Reader) (*Set, int, error) {
	b := NewBuilder()
	skipped := 0

	scanner := bufio.NewScanner(r)
	// Some public lists carry very long lines; grow the line budget.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isComment(line) {
			continue
		}
		domain, wild, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}
		if wild {
			b.Add("*." + domain)
		} else {
			b.Add(domain)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("reading blocklist: %w", err)
	}
	return b.Build(), skipped, nil
}

// ParseFile parses a blocklist from disk.
func ParseFile(path string) (*Set, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open blocklist: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "!") ||
		strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "[")
}

// parseLine reduces one rule to (domain, wildcard). ok=false discards the
// line.
func parseLine(line string) (string, bool, bool) {
	switch {
	case strings.HasPrefix(line, "@@"):
		// Exception rules are not block entries.
		return "", false, false
	case strings.HasPrefix(line, "||"):
		return parseAdblock(line)
	case strings.HasPrefix(line, "0.0.0.0 ") || strings.HasPrefix(line, "127.0.0.1 ") ||
		strings.HasPrefix(line, "0.0.0.0\t") || strings.HasPrefix(line, "127.0.0.1\t"):
		return parseHosts(line)
	default:
		return parsePlain(line)
	}
}

// parseAdblock reduces "||domain^$options" to a host suffix. In adblock
// semantics a host rule covers the domain and its subdomains, which maps
// to a plain (non-wildcard) entry here.
func parseAdblock(line string) (string, bool, bool) {
	domain := strings.TrimPrefix(line, "||")
	if i := strings.IndexByte(domain, '^'); i >= 0 {
		domain = domain[:i]
	}
	if i := strings.IndexByte(domain, '$'); i >= 0 {
		domain = domain[:i]
	}
	// Path or mid-string wildcard rules do not reduce to a host suffix.
	if strings.ContainsAny(domain, "/*") {
		return "", false, false
	}
	domain = Normalize(domain)
	if !isValidDomain(domain) {
		return "", false, false
	}
	return domain, false, true
}

func parseHosts(line string) (string, bool, bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false, false
	}
	domain := Normalize(fields[1])
	if domain == "localhost" || domain == "localhost.localdomain" || !isValidDomain(domain) {
		return "", false, false
	}
	return domain, false, true
}

func parsePlain(line string) (string, bool, bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	wild := false
	if rest, ok := strings.CutPrefix(line, "*."); ok {
		wild = true
		line = rest
	}
	domain := Normalize(line)
	if !isValidDomain(domain) {
		return "", false, false
	}
	return domain, wild, true
}

// isValidDomain performs basic validation of a domain name.
func isValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 || !strings.Contains(domain, ".") {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := range len(label) {
			c := label[i]
			if !isAlphaNum(c) && c != '-' && c != '_' {
				return false
			}
		}
	}
	return true
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
