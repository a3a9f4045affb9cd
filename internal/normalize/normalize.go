// Package normalize turns raw log lines into stable pattern strings.
//
// Variable tokens are replaced with fixed placeholders so that structurally
// identical lines collapse into one pattern. Specific token shapes are masked
// before the generic number rule so their digit runs stay intact.
//
// Character classes are ASCII only: \b, \d and \s do not treat non-ASCII
// letters, digits or spaces as word, digit or space characters. A digit run
// glued to "é" is therefore still masked, and a no-break space is kept as is.
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// Placeholders substituted for variable data
const (
	PlaceholderUUID = "<UUID>"
	PlaceholderHash = "<HASH>"
	PlaceholderIP   = "<IP>"
	PlaceholderMAC  = "<MAC>"
	PlaceholderHex  = "<HEX>"
	PlaceholderPath = "<PATH>"
	PlaceholderNum  = "<N>"
)

var (
	syslogPrefixRe = regexp.MustCompile(`^[A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+[^ ]+\s+[^:]+:\s*`)
	isoPrefixRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T[\d:.+-]+Z?\s*`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

type substitution struct {
	re          *regexp.Regexp
	placeholder string
}

// Applied in this order.
var substitutions = []substitution{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`), PlaceholderUUID},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{32,64}\b`), PlaceholderHash},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), PlaceholderIP},
	{regexp.MustCompile(`(?i)\b(?:[0-9a-f]{2}:){5}[0-9a-f]{2}\b`), PlaceholderMAC},
	{regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`), PlaceholderHex},
	{regexp.MustCompile(`(?:/[A-Za-z0-9._-]+)+`), PlaceholderPath},
	{regexp.MustCompile(`\b\d+\b`), PlaceholderNum},
}

// Normalize strips timestamp prefixes and masks variable tokens.
// It returns "" for blank input, which callers treat as "discard".
func Normalize(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	line = syslogPrefixRe.ReplaceAllString(line, "")
	line = isoPrefixRe.ReplaceAllString(line, "")

	for _, s := range substitutions {
		line = s.re.ReplaceAllLiteralString(line, s.placeholder)
	}

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
}

// Hash returns the SHA-1 hex digest of a normalized pattern.
// It is an identity key only.
func Hash(pattern string) string {
	sum := sha1.Sum([]byte(pattern))
	return hex.EncodeToString(sum[:])
}
