package jwt

import "strings"

// StripBearerPrefix removes any leading "Bearer " prefixes from an
// Authorization header value, case-insensitively.
func StripBearerPrefix(raw string) string {
	raw = strings.TrimSpace(raw)
	for {
		rest, found := cutPrefixFold(raw, "bearer ")
		if !found {
			return raw
		}
		raw = strings.TrimSpace(rest)
	}
}

func cutPrefixFold(s, prefix string) (rest string, found bool) {
	if len(s) < len(prefix) {
		return s, false
	}
	if !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
