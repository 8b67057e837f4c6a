package entity

import (
	"strconv"
	"strings"
	"unicode"
)

// CompareNatural orders identifiers so that embedded numbers compare by
// value: "2" < "10", "G2" < "G10", "phase-1b" < "phase-2".
func CompareNatural(a, b string) int {
	if isDecimal(a) && isDecimal(b) {
		fa, errA := strconv.ParseFloat(a, 64)
		fb, errB := strconv.ParseFloat(b, 64)
		if errA == nil && errB == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return strings.Compare(a, b)
		}
	}

	ca, cb := chunks(a), chunks(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if c := compareChunk(ca[i], cb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ca) < len(cb):
		return -1
	case len(ca) > len(cb):
		return 1
	}
	return strings.Compare(a, b)
}

func compareChunk(a, b string) int {
	da, db := isDigits(a), isDigits(b)
	if da && db {
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			if len(ta) < len(tb) {
				return -1
			}
			return 1
		}
		return strings.Compare(ta, tb)
	}
	return strings.Compare(a, b)
}

func chunks(s string) []string {
	var out []string
	var cur strings.Builder
	prevDigit := false
	for i, r := range s {
		d := unicode.IsDigit(r)
		if i > 0 && d != prevDigit {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
		prevDigit = d
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// isDecimal reports whether s is digits with at most one interior point.
func isDecimal(s string) bool {
	intPart, frac, found := strings.Cut(s, ".")
	if !isDigits(intPart) {
		return false
	}
	return !found || isDigits(frac)
}
