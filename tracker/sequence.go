package tracker

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FrameIndex returns the value of the first run of ASCII digits in
// identifier, or zero when it has none.  Other scripts' digits are treated as
// text, the same as NaturalLess does.
func FrameIndex(identifier string) int {

	start := strings.IndexFunc(identifier, func(r rune) bool {
		return r < utf8.RuneSelf && isDigit(byte(r))
	})

	if start < 0 {
		return 0
	}

	end := start

	for end < len(identifier) && isDigit(identifier[end]) {
		end++
	}

	n, err := strconv.Atoi(identifier[start:end])

	if err != nil {
		return 0
	}

	return n
}

// splitDigits breaks s into alternating text and digit runs
func splitDigits(s string) []string {

	var parts []string
	start := 0

	for i := 1; i <= len(s); i++ {
		if i == len(s) || isDigit(s[i]) != isDigit(s[start]) {
			parts = append(parts, s[start:i])
			start = i
		}
	}

	return parts
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// NaturalLess orders strings so embedded numbers compare by value, making
// frame_9 sort before frame_10.  Text runs compare case insensitively.
func NaturalLess(a, b string) bool {

	pa, pb := splitDigits(a), splitDigits(b)

	for i := 0; i < len(pa) && i < len(pb); i++ {
		x, y := pa[i], pb[i]

		if isDigit(x[0]) && isDigit(y[0]) {
			nx, errX := strconv.ParseUint(x, 10, 64)
			ny, errY := strconv.ParseUint(y, 10, 64)

			if errX == nil && errY == nil && nx != ny {
				return nx < ny
			}

			if errX != nil || errY != nil {
				// too long for uint64, compare by length then digits
				tx, ty := strings.TrimLeft(x, "0"), strings.TrimLeft(y, "0")

				if len(tx) != len(ty) {
					return len(tx) < len(ty)
				}

				if tx != ty {
					return tx < ty
				}
			}

			continue
		}

		lx, ly := strings.ToLower(x), strings.ToLower(y)

		if lx != ly {
			return lx < ly
		}
	}

	if len(pa) != len(pb) {
		return len(pa) < len(pb)
	}

	return a < b
}

// NaturalSort sorts identifiers in place with NaturalLess
func NaturalSort(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return NaturalLess(ids[i], ids[j])
	})
}
