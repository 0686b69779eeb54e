package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const searchPrefix = "cmr"

// SearchKey builds a deterministic cache key for a granule search.
// The readable part is kept short; the hash covers the full parameter text.
func SearchKey(mission, temporal, bbox, dayNight string) string {
	missionNorm := sanitizeForKey(strings.ToUpper(strings.TrimSpace(mission)))
	params := strings.Join([]string{
		collapseASCIIWhitespace(temporal),
		collapseASCIIWhitespace(bbox),
		strings.ToUpper(strings.TrimSpace(dayNight)),
	}, "|")

	sum := xxhash.Sum64String(missionNorm + "|" + params)
	return fmt.Sprintf("%s:%s:%016x", searchPrefix, missionNorm, sum)
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
