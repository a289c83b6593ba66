package guard

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopWords carry no identity in a listing name.
var stopWords = map[string]bool{
	"the": true, "and": true, "of": true, "at": true, "a": true,
	"restaurant": true, "hotel": true, "cafe": true, "inc": true, "llc": true,
}

// NormalizeName folds accents and case, maps "&" to "and" and drops
// punctuation, so "Café Luna & Bar" and "cafe luna and bar" compare equal.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(strings.ReplaceAll(folded, "&", " and "))

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// "Joe's" -> "joes"
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity scores two names in [0,1]: the better of word-set Jaccard and
// character-bigram Dice over the normalized names without stop words.
func Similarity(a, b string) float64 {
	wa, wb := significantWords(a), significantWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	return max(jaccard(wa, wb), dice(strings.Join(wa, ""), strings.Join(wb, "")))
}

// SameLocality reports whether two localities match after normalization. An
// unknown locality on either side matches.
func SameLocality(a, b string) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	return na == "" || nb == "" || na == nb
}

func significantWords(s string) []string {
	words := strings.Fields(NormalizeName(s))
	out := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return words
	}
	return out
}

func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	inter := 0
	seen := make(map[string]bool, len(b))
	for _, w := range b {
		if seen[w] {
			continue
		}
		seen[w] = true
		if set[w] {
			inter++
		}
	}
	union := len(set) + len(seen) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func dice(a, b string) float64 {
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		if a == b {
			return 1
		}
		return 0
	}
	counts := make(map[string]int, len(ba))
	for _, g := range ba {
		counts[g]++
	}
	inter := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(ba)+len(bb))
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}
