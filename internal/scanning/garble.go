package scanning

import (
	"regexp"
	"strings"
	"unicode"
)

// GarbledConfidence is the ceiling applied to a field whose text looks like
// OCR noise.
const GarbledConfidence = 0.2

var (
	reSymbolRun  = regexp.MustCompile(`[^\p{L}\p{N}\s]{3,}`)
	reNumericish = regexp.MustCompile(`^[\d\s.,:/\-+]+$`)
)

// LooksGarbled reports whether text that should be words looks like OCR
// noise: runs of unrelated symbols, digits only, fewer letters than other
// characters, or a single character repeated over and over. Short names such
// as "3M" pass.
func LooksGarbled(text string) bool {
	s := strings.TrimSpace(text)
	if s == "" {
		return false
	}
	if reSymbolRun.MatchString(s) {
		return true
	}
	if reNumericish.MatchString(s) {
		return true
	}
	if hasRepeatedRune(s, 4) {
		return true
	}

	var letters, other int
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsSpace(r):
		default:
			other++
		}
	}
	return letters == 0 || float64(letters)/float64(letters+other) < 0.5
}

func hasRepeatedRune(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev && !unicode.IsSpace(r) {
			run++
			if run >= n {
				return true
			}
			continue
		}
		prev = r
		run = 1
	}
	return false
}
