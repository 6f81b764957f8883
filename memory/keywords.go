package memory

import (
	"sort"
	"strings"
	"unicode"
)

// Two keyword notions coexist on purpose. FindSimilar and the compressor use
// coarse extraction (whole string values as single keywords), while the
// inverted index and recommendation engine split on word boundaries. The two
// disagree about what "overlap" means for the same data; callers depend on
// each behavior separately, so they are never unified here.

// contentKeywords extracts the coarse keyword set: every string value in the
// (possibly nested) content becomes one lowercased whole-string keyword, and
// map keys become keywords too.
func contentKeywords(c Content) map[string]struct{} {
	out := make(map[string]struct{})
	collectCoarse(c, out)
	return out
}

func collectCoarse(v any, out map[string]struct{}) {
	switch t := v.(type) {
	case string:
		if t != "" {
			out[strings.ToLower(t)] = struct{}{}
		}
	case map[string]any:
		for k, vv := range t {
			if k != "" {
				out[strings.ToLower(k)] = struct{}{}
			}
			collectCoarse(vv, out)
		}
	case []any:
		for _, e := range t {
			collectCoarse(e, out)
		}
	case []string:
		for _, s := range t {
			collectCoarse(s, out)
		}
	}
}

// splitWords lowercases s and splits on every non-alphanumeric,
// non-underscore boundary.
func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// indexKeywords extracts the fine-grained keyword set for the inverted
// index: word-split terms from content (keys and string values), tags,
// category, and feature id.
func indexKeywords(e *MemoryEntry) map[string]struct{} {
	out := make(map[string]struct{})
	collectFine(e.Content, out, 0)
	for _, tag := range e.Tags {
		addWords(tag, out, 0)
	}
	addWords(e.Category, out, 0)
	addWords(e.FeatureID, out, 0)
	return out
}

// fineKeywords extracts word-split keywords from a content map, dropping
// words with length <= minDrop. The recommendation engine uses minDrop=2.
func fineKeywords(c Content, minDrop int) map[string]struct{} {
	out := make(map[string]struct{})
	collectFine(c, out, minDrop)
	return out
}

func collectFine(v any, out map[string]struct{}, minDrop int) {
	switch t := v.(type) {
	case string:
		addWords(t, out, minDrop)
	case map[string]any:
		for k, vv := range t {
			addWords(k, out, minDrop)
			collectFine(vv, out, minDrop)
		}
	case []any:
		for _, e := range t {
			collectFine(e, out, minDrop)
		}
	case []string:
		for _, s := range t {
			addWords(s, out, minDrop)
		}
	}
}

func addWords(s string, out map[string]struct{}, minDrop int) {
	for _, w := range splitWords(s) {
		if len(w) > minDrop {
			out[w] = struct{}{}
		}
	}
}

// tokenize produces semantic-search tokens: lowercase words of length >= 2.
func tokenize(s string) []string {
	words := splitWords(s)
	out := words[:0]
	for _, w := range words {
		if len(w) >= 2 {
			out = append(out, w)
		}
	}
	return out
}

// contentTokens collects semantic tokens from a content map, including its
// keys, using the same rule as tokenize.
func contentTokens(c Content) map[string]struct{} {
	out := make(map[string]struct{})
	collectTokens(c, out)
	return out
}

func collectTokens(v any, out map[string]struct{}) {
	switch t := v.(type) {
	case string:
		for _, w := range tokenize(t) {
			out[w] = struct{}{}
		}
	case map[string]any:
		for k, vv := range t {
			for _, w := range tokenize(k) {
				out[w] = struct{}{}
			}
			collectTokens(vv, out)
		}
	case []any:
		for _, e := range t {
			collectTokens(e, out)
		}
	case []string:
		for _, s := range t {
			collectTokens(s, out)
		}
	}
}

// containsSubstring reports whether needle appears, case-insensitively, in
// any string value or key anywhere in the content.
func containsSubstring(v any, needle string) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), needle)
	case map[string]any:
		for k, vv := range t {
			if strings.Contains(strings.ToLower(k), needle) {
				return true
			}
			if containsSubstring(vv, needle) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if containsSubstring(e, needle) {
				return true
			}
		}
	case []string:
		for _, s := range t {
			if strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
	}
	return false
}

func overlapCount(a, b map[string]struct{}) int {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	n := 0
	for k := range small {
		if _, ok := large[k]; ok {
			n++
		}
	}
	return n
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lowerSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, s := range items {
		if s != "" {
			out[strings.ToLower(s)] = struct{}{}
		}
	}
	return out
}
