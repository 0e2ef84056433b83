package quote

import (
	"regexp"
	"strings"
)

// SecretVM attestation endpoints serve the quote as one long hex string in
// the body of a /cpu.html page, usually inside a <pre> block.
var (
	preBlockRE = regexp.MustCompile(`(?s)<pre[^>]*>(.*?)</pre>`)
	// Go's regexp caps repeat counts at 1000, so {2000,} is written as two
	// {1000} blocks followed by a greedy tail; the matched language is the same.
	hexRunRE = regexp.MustCompile(`[0-9a-fA-F]{1000}[0-9a-fA-F]{1000}[0-9a-fA-F]*`)
)

// ExtractHexQuote pulls the attestation quote out of an HTML or plain-text
// endpoint response. Returns "" when no plausible quote is present.
func ExtractHexQuote(body string) string {
	for _, match := range preBlockRE.FindAllStringSubmatch(body, -1) {
		cleaned := strings.TrimSpace(match[1])
		if len(cleaned) >= 2000 && isHex(cleaned) {
			return cleaned
		}
	}
	// Not every endpoint wraps the quote in <pre>; fall back to the first
	// long hex run anywhere in the body.
	if run := hexRunRE.FindString(body); run != "" {
		return run
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}
