package align

import (
	"math"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/unicode/norm"
)

// normalizeWord folds a word for comparison: NFKC, lowercase, letters and
// digits only.
func normalizeWord(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// textScore rates two normalized words on a 0-100 scale, taking the best
// of several fuzzy metrics. Short words score generously on containment
// since recognizers often glue or split them.
func textScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	score := matchr.JaroWinkler(a, b, false) * 100

	if lev := levenshteinRatio(a, b); lev > score {
		score = lev
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		partial := 90.0
		if minRuneLen(a, b) < 3 {
			partial = 75
		}
		if partial > score {
			score = partial
		}
	}
	return score
}

// levenshteinRatio maps edit distance to a 0-100 similarity.
func levenshteinRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	dist := matchr.Levenshtein(a, b)
	return math.Max(0, (1-float64(dist)/float64(longest))*100)
}

func minRuneLen(a, b string) int {
	la, lb := len([]rune(a)), len([]rune(b))
	if la < lb {
		return la
	}
	return lb
}
