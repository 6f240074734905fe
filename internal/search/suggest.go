package search

import (
	"sort"
	"strings"
)

// Suggest returns up to limit distinct words from texts that start with
// prefix (case-folded), most frequent first and alphabetical among equals.
// Words equal to the prefix are skipped.
func Suggest(texts []string, prefix string, limit int) []string {
	prefix = fold(strings.TrimSpace(prefix))
	if prefix == "" || limit <= 0 {
		return nil
	}
	freq := make(map[string]int)
	for _, t := range texts {
		for _, w := range Tokenize(t) {
			if w != prefix && strings.HasPrefix(w, prefix) {
				freq[w]++
			}
		}
	}
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(a, b int) bool {
		if freq[words[a]] != freq[words[b]] {
			return freq[words[a]] > freq[words[b]]
		}
		return words[a] < words[b]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}
