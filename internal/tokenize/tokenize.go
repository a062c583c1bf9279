// Package tokenize implements the keyword-fallback canonicalization pipeline:
// lowercase, extract alnum runs, drop stopwords and single-character tokens,
// apply a light suffix stem, and expand through a fixed synonym table.
//
// The extraction style (FieldsFunc over a rune predicate, a stopword set)
// mirrors theRebelliousNerd-codenerd's internal/shards/researcher keyword
// extractor; stemming and synonym expansion are new, driven by spec.md §6.
package tokenize

import (
	"regexp"
	"sort"
	"strings"
)

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "to": {}, "of": {}, "and": {}, "or": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "at": {}, "by": {}, "is": {},
	"it": {}, "be": {}, "as": {}, "are": {}, "was": {}, "were": {}, "from": {},
	"that": {}, "this": {}, "these": {}, "those": {}, "but": {}, "if": {},
	"then": {}, "so": {}, "than": {}, "into": {}, "over": {}, "under": {},
	"about": {}, "via": {}, "vs": {}, "not": {},
}

// synonymGroups groups terms that canonicalization treats as interchangeable.
var synonymGroups = [][]string{
	{"prefer", "like", "love", "enjoy"},
	{"theme", "mode", "style"},
	{"task", "todo", "job"},
	{"user", "person", "people"},
}

var synonymIndex = buildSynonymIndex()

func buildSynonymIndex() map[string][]string {
	idx := make(map[string][]string)
	for _, group := range synonymGroups {
		for _, term := range group {
			var others []string
			for _, other := range group {
				if other != term {
					others = append(others, other)
				}
			}
			idx[term] = others
		}
	}
	return idx
}

// stem removes a trailing -ing/-ed/-s suffix when the remainder is still at
// least 3 characters long, the same conservative rule spec.md §6 specifies.
func stem(tok string) string {
	switch {
	case strings.HasSuffix(tok, "ing") && len(tok)-3 >= 3:
		return tok[:len(tok)-3]
	case strings.HasSuffix(tok, "ed") && len(tok)-2 >= 3:
		return tok[:len(tok)-2]
	case strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") && len(tok)-1 >= 3:
		return tok[:len(tok)-1]
	default:
		return tok
	}
}

// Tokens extracts the canonical token slice from text: lowercase, alnum runs,
// drop length-1 tokens and stopwords, then stem until the token no longer
// changes and drop any stem that is itself a stopword. Order is preserved but
// not significant to callers, who treat the result as a set.
func Tokens(text string) []string {
	lower := strings.ToLower(text)
	raw := wordRe.FindAllString(lower, -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		s := stem(tok)
		for next := stem(s); next != s; next = stem(s) {
			s = next
		}
		if _, stop := stopwords[s]; stop {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CanonicalSet returns the canonical token set for text, a pure function of
// its canonical tokens: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func CanonicalSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokens(text) {
		set[tok] = struct{}{}
	}
	return set
}

// Canonicalize returns the sorted, space-joined canonical token string — the
// idempotent textual form referenced in spec.md §8.
func Canonicalize(text string) string {
	set := CanonicalSet(text)
	toks := make([]string, 0, len(set))
	for t := range set {
		toks = append(toks, t)
	}
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// DocumentSet returns the canonical token set unioned with the synonyms of
// each of its members — the search-document form used for indexing, per
// spec.md §6 ("A search document for a memory is its canonical token set
// union synonyms of those tokens").
func DocumentSet(text string) map[string]struct{} {
	set := CanonicalSet(text)
	expanded := make(map[string]struct{}, len(set))
	for tok := range set {
		expanded[tok] = struct{}{}
		for _, syn := range synonymIndex[tok] {
			expanded[syn] = struct{}{}
		}
	}
	return expanded
}

// QueryTokens returns the canonical OR-query token slice for a query string
// (no synonym expansion — only the document side expands, per spec.md §6).
func QueryTokens(text string) []string {
	return Tokens(text)
}

// Jaccard computes |a ∩ b| / |a ∪ b| for two token sets. Two empty sets are
// defined as similarity 0 (no shared meaning to measure), matching spec.md §8's
// "empty intersection -> 0" boundary case.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// MatchesAny reports whether any token of doc appears in query — the OR
// semantics of the keyword-fallback query, per spec.md §4.5/§6.
func MatchesAny(query []string, doc map[string]struct{}) bool {
	for _, tok := range query {
		if _, ok := doc[tok]; ok {
			return true
		}
	}
	return false
}
