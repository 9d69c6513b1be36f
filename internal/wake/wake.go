// Package wake gates session activation on configured trigger phrases found
// in streaming speech-recognition text.
package wake

import "strings"

// Detection carries the specific configured word that matched. Multiple
// equivalent triggers may be configured at once, so callers need the exact
// string, not just a boolean.
type Detection struct {
	Word       string
	Confidence float64
}

// Set is an immutable, ordered, deduplicated collection of case-normalized
// trigger phrases plus the recognizer confidence floor. Build one at startup
// and hand it to every session; to reconfigure, build a new Set and swap the
// reference, never mutate in place.
type Set struct {
	words       []string
	sensitivity float64
}

// NewSet normalizes, deduplicates and orders the given phrases. Matches whose
// recognizer confidence falls below sensitivity are discarded.
func NewSet(phrases []string, sensitivity float64) *Set {
	seen := make(map[string]struct{}, len(phrases))
	words := make([]string, 0, len(phrases))
	for _, p := range phrases {
		w := strings.ToLower(strings.TrimSpace(p))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return &Set{words: words, sensitivity: sensitivity}
}

// Words returns a copy of the configured triggers in priority order.
func (s *Set) Words() []string {
	out := make([]string, len(s.words))
	copy(out, s.words)
	return out
}

// Match checks incremental recognizer text against the configured words.
// Rules in priority order: exact equality, standalone token, multi-token
// phrase appearing contiguously in the tokenized text. The first configured
// word satisfying any rule wins; there is no scoring across words. A match
// below the sensitivity floor is discarded. Match never fails; absence of a
// match returns ok=false and the caller stays idle.
func (s *Set) Match(text string, confidence float64) (Detection, bool) {
	if text == "" || confidence < s.sensitivity {
		return Detection{}, false
	}
	norm := strings.ToLower(strings.TrimSpace(text))
	tokens := tokenize(norm)

	for _, w := range s.words {
		if norm == w {
			return Detection{Word: w, Confidence: confidence}, true
		}
		wTokens := strings.Fields(w)
		if len(wTokens) == 1 {
			for _, tok := range tokens {
				if tok == w {
					return Detection{Word: w, Confidence: confidence}, true
				}
			}
			continue
		}
		if containsSeq(tokens, wTokens) {
			return Detection{Word: w, Confidence: confidence}, true
		}
	}
	return Detection{}, false
}

// tokenize splits on whitespace and strips surrounding punctuation from each
// token, mirroring how recognizers punctuate partials.
func tokenize(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Trim(f, " ,.!?;:-\"'`~")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func containsSeq(tokens, seq []string) bool {
	for i := 0; i+len(seq) <= len(tokens); i++ {
		match := true
		for j := range seq {
			if tokens[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
