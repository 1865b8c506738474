package ingestion

import (
	"sort"
	"strings"
)

// stopwords trimmed to the short function words that show up in usage-context
// prose; tokens of length <= 3 are dropped before this list applies.
var stopwords = map[string]bool{
	"about": true, "after": true, "also": true, "among": true, "been": true,
	"because": true, "before": true, "being": true, "between": true, "both": true,
	"could": true, "does": true, "during": true, "each": true, "from": true,
	"have": true, "into": true, "onto": true, "over": true, "should": true,
	"such": true, "than": true, "that": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true, "this": true,
	"those": true, "through": true, "under": true, "upon": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "while": true,
	"will": true, "with": true, "would": true,
}

// tokenize lowercases text and keeps significant words: length > 3 and not a
// stopword.
func tokenize(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' && r != '\''
	}) {
		w = strings.Trim(w, "-'")
		if len(w) <= 3 || stopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// charNGrams returns the set of character n-grams of the normalized text.
func charNGrams(text string, n int) map[string]bool {
	s := normalizeName(text)
	out := map[string]bool{}
	if len(s) < n {
		if s != "" {
			out[s] = true
		}
		return out
	}
	for i := 0; i+n <= len(s); i++ {
		out[s[i:i+n]] = true
	}
	return out
}

func diceCoefficient(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if b[g] {
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(a)+len(b))
}

// TrigramJaccard is the default similarity for the canonicalizer fallback
// rule. It is tolerant of hyphenation and spacing differences but scores
// short abbreviation pairs low, which is what canonical matching needs.
func TrigramJaccard(a, b string) float64 {
	ga := charNGrams(a, 3)
	gb := charNGrams(b, 3)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	inter := 0
	for g := range ga {
		if gb[g] {
			inter++
		}
	}
	union := len(ga) + len(gb) - inter
	return float64(inter) / float64(union)
}

// normalizeName collapses whitespace, lowercases, and unifies hyphens so
// lookups are insensitive to spacing and punctuation noise.
func normalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// stemMatch reports whether two significant words refer to the same stem:
// equal, or sharing a prefix of at least five characters. Catches
// allocation/allocate and resource/resources without a full stemmer.
func stemMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < 5 || len(b) < 5 {
		return false
	}
	return a[:5] == b[:5]
}
