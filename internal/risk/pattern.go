package risk

import "strings"

// Match reports whether name matches pattern, where '%' matches any run of
// characters (including none) and every other byte matches literally,
// case-sensitively. The matcher is deliberately independent of any storage
// engine's LIKE syntax so scoring stays a pure function.
func Match(pattern, name string) bool {
	segs := strings.Split(pattern, "%")
	if len(segs) == 1 {
		return pattern == name
	}

	rest := name
	if !strings.HasPrefix(rest, segs[0]) {
		return false
	}
	rest = rest[len(segs[0]):]

	for _, seg := range segs[1 : len(segs)-1] {
		if seg == "" {
			continue
		}
		i := strings.Index(rest, seg)
		if i < 0 {
			return false
		}
		rest = rest[i+len(seg):]
	}

	last := segs[len(segs)-1]
	if last == "" {
		return true
	}
	return strings.HasSuffix(rest, last)
}

// literalLen counts the non-wildcard characters of a pattern; the match with
// the most literal characters is the most specific.
func literalLen(pattern string) int {
	return len(pattern) - strings.Count(pattern, "%")
}
