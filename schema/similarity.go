package schema

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NameSimilarity scores how likely two field names refer to the same field.
// Identical names score above 1, underscore and acronym respellings score
// exactly 1, and unrelated names approach 0.
func NameSimilarity(a, b string) float64 {
	if a == b {
		return 1.1
	}
	if stripUnderscores(a) == stripUnderscores(b) {
		return 1.0
	}
	if a == acronym(b) || b == acronym(a) {
		return 1.0
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	return 1 - levenshtein(a, b)/float64(longest)
}

func stripUnderscores(s string) string {
	return strings.ReplaceAll(s, "_", "")
}

// acronym returns the first letter of each underscore-separated word.
func acronym(s string) string {
	var b strings.Builder
	for _, word := range strings.Split(s, "_") {
		if word != "" {
			b.WriteString(word[:1])
		}
	}
	return b.String()
}

// levenshtein is an edit distance where substitutions differing only in
// case cost a quarter of a full edit.
func levenshtein(a, b string) float64 {
	r1, r2 := []rune(a), []rune(b)
	if len(r1) < len(r2) {
		r1, r2 = r2, r1
	}
	if len(r2) == 0 {
		return float64(len(r1))
	}

	previous := make([]float64, len(r2)+1)
	for i := range previous {
		previous[i] = float64(i)
	}
	for i, c1 := range r1 {
		current := make([]float64, 1, len(r2)+1)
		current[0] = float64(i + 1)
		for j, c2 := range r2 {
			insertion := previous[j+1] + 1
			deletion := current[j] + 1
			cost := 1.0
			if c1 == c2 {
				cost = 0
			} else if unicode.ToLower(c1) == unicode.ToLower(c2) {
				cost = 0.25
			}
			current = append(current, min(insertion, deletion, previous[j]+cost))
		}
		previous = current
	}
	return previous[len(previous)-1]
}
