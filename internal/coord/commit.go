package coord

import "strings"

const minAbbrev = 7

// sameCommit reports whether a and b name the same commit. An
// abbreviation of at least seven hex digits matches the full id it
// prefixes.
func sameCommit(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return a != ""
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= minAbbrev && isHex(short) && isHex(long) && strings.HasPrefix(long, short)
}

func shortCommit(c string) string {
	if len(c) == 40 && isHex(c) {
		return c[:minAbbrev]
	}
	return c
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return s != ""
}
