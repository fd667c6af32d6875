package classify

import "strings"

// stopWords is deliberately small: the overlap heuristic only needs to
// discount words too common to be discriminating, not achieve linguistic
// correctness.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "will": true, "about": true,
	"into": true, "your": true, "their": true, "what": true, "when": true,
	"then": true, "than": true, "just": true, "some": true, "more": true,
	"there": true, "here": true, "been": true, "were": true, "are": true,
}

// significantWords lowercases s and keeps tokens of length >= 3 that are
// not stop words.
func significantWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, raw := range strings.Fields(strings.ToLower(s)) {
		w := strings.TrimFunc(raw, func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		})
		if len(w) >= 3 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

// OverlapRatio is the threshold policy parameter for "similar enough"
// description matching, exposed as a constant so it can be tuned without
// a code change.
const OverlapRatio = 0.5

// SimilarDescriptions reports whether a and b share at least OverlapRatio
// of their smaller significant-word set — the fuzzy description-overlap
// rule used for task dedup and "similar existing task" warnings.
func SimilarDescriptions(a, b string) bool {
	wa := significantWords(a)
	wb := significantWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return false
	}

	smaller, larger := wa, wb
	if len(wb) < len(wa) {
		smaller, larger = wb, wa
	}

	overlap := 0
	for w := range smaller {
		if larger[w] {
			overlap++
		}
	}
	return float64(overlap)/float64(len(smaller)) >= OverlapRatio
}
