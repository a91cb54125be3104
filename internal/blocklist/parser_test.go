package blocklist

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"! EasyList style comment",
		"# hash comment",
		"[Adblock Plus 2.0]",
		"",
		"||ads.example.com^",
		"||tracker.test^$third-party",
		"||path.example.com/banner", // path rule, discarded
		"@@||allowed.example.com^",  // exception rule, discarded
		"0.0.0.0 hosts.example.net",
		"127.0.0.1 localhost",
		"plain.example.org",
		"*.wild.example.org",
		"inline.example.org # trailing comment",
		"not_a_domain_no_dot",
	}, "\n")

	set, skipped, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.True(t, set.Contains("ads.example.com"))
	assert.True(t, set.Contains("sub.ads.example.com"), "adblock rules cover subdomains")
	assert.True(t, set.Contains("tracker.test"))
	assert.True(t, set.Contains("hosts.example.net"))
	assert.True(t, set.Contains("plain.example.org"))
	assert.True(t, set.Contains("inline.example.org"))

	assert.True(t, set.Contains("a.wild.example.org"))
	assert.False(t, set.Contains("wild.example.org"), "wildcard excludes the bare suffix")

	assert.False(t, set.Contains("allowed.example.com"))
	assert.False(t, set.Contains("localhost"))
	assert.False(t, set.Contains("path.example.com"))

	// path rule, exception rule, localhost, bare word
	assert.Equal(t, 4, skipped)
}

func TestParseEmptyInput(t *testing.T) {
	set, skipped, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, set.Len())
	assert.Zero(t, skipped)
}

func TestParseFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, _, err := ParseFile("does/not/exist.txt")
		require.Error(t, err)
	})

	t.Run("seed file", func(t *testing.T) {
		path := t.TempDir() + "/init.txt"
		require.NoError(t, writeTestFile(path, "example.com\ntracker.test\n"))

		set, _, err := ParseFile(path)
		require.NoError(t, err)
		assert.Equal(t, 2, set.Len())
		assert.True(t, set.Contains("ads.example.com"))
	})
}

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"a-b.example.com", true},
		{"_dmarc.example.com", true},
		{"", false},
		{"nodot", false},
		{"-bad.example.com", false},
		{"bad-.example.com", false},
		{"double..dot", false},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidDomain(tt.domain))
		})
	}
}
