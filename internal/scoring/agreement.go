package scoring

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Agreement measures how closely two renditions of the same speech match,
// in [0, 1]. It is used on audio submissions to corroborate the live
// session's captions against the independently verified transcript: both
// are normalized to lowercase letter/digit tokens so casing, punctuation
// and whitespace differences do not count as disagreement.
func Agreement(heard, verified string) float64 {
	a := strings.Join(normalizeTokens(heard), " ")
	b := strings.Join(normalizeTokens(verified), " ")

	switch {
	case a == "" && b == "":
		return 1
	case a == "" || b == "":
		return 0
	}
	return matchr.JaroWinkler(a, b, false)
}

// normalizeTokens lowercases s and splits it into tokens of letters, digits
// and internal apostrophes, dropping everything else.
func normalizeTokens(s string) []string {
	keep := func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
	}

	var tokens []string
	var cur strings.Builder
	for _, r := range strings.ToLower(s) {
		if keep(r) {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			tokens = append(tokens, strings.Trim(cur.String(), "'"))
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, strings.Trim(cur.String(), "'"))
	}

	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
