package registry

import (
	"strings"
	"unicode"
)

// Matcher scores a descriptor's capability description against a free-text
// query. Implementations must be deterministic: identical inputs produce
// identical scores. The exact scoring formula is a replaceable strategy.
type Matcher interface {
	Score(query string, d Descriptor) float64
}

// MatcherFunc adapts a plain function to the Matcher interface.
type MatcherFunc func(query string, d Descriptor) float64

// Score implements Matcher.
func (f MatcherFunc) Score(query string, d Descriptor) float64 { return f(query, d) }

// conceptGroups maps common task vocabulary onto shared concepts so that a
// query like "find recent papers" overlaps a capability like "literature
// search" without full semantic ranking (which is out of scope). Tokens not
// in any group stand for themselves.
var conceptGroups = [][]string{
	{"paper", "literature", "article", "publication", "source", "citation", "research", "bibliography"},
	{"search", "find", "retrieve", "lookup", "query", "locate", "discover"},
	{"write", "writ", "draft", "compose", "author", "introduction", "paragraph", "section", "prose", "abstract", "conclusion"},
	{"review", "critique", "feedback", "assess", "evaluate", "quality"},
	{"build", "compile", "test", "verify", "lint", "check"},
	{"data", "analysis", "statistic", "chart", "visualization", "metric"},
	{"methodology", "method", "design", "protocol", "experiment"},
	{"edit", "revise", "revis", "polish", "proofread", "rewrite"},
}

// LexicalMatcher scores by concept overlap between the query and the
// capability description: tokens are lowercased, lightly stemmed and mapped
// through a small shared-concept lexicon; the score is the fraction of query
// concepts covered by the capability, with a bonus for exact token matches.
type LexicalMatcher struct {
	concepts map[string]string
}

// NewLexicalMatcher constructs the default matcher.
func NewLexicalMatcher() *LexicalMatcher {
	concepts := make(map[string]string)
	for _, group := range conceptGroups {
		canonical := group[0]
		for _, word := range group {
			concepts[word] = canonical
		}
	}
	return &LexicalMatcher{concepts: concepts}
}

// Score implements Matcher.
func (m *LexicalMatcher) Score(query string, d Descriptor) float64 {
	queryConcepts := m.conceptsOf(query)
	if len(queryConcepts) == 0 {
		return 0
	}
	capabilityConcepts := m.conceptsOf(d.Capability + " " + d.Name)

	overlap := 0
	for c := range queryConcepts {
		if _, ok := capabilityConcepts[c]; ok {
			overlap++
		}
	}
	score := float64(overlap) / float64(len(queryConcepts))

	// Exact token matches are stronger evidence than concept overlap.
	queryTokens := tokenize(query)
	capabilityTokens := map[string]bool{}
	for _, t := range tokenize(d.Capability) {
		capabilityTokens[t] = true
	}
	for _, t := range queryTokens {
		if capabilityTokens[t] {
			score += 0.25
		}
	}

	return score
}

func (m *LexicalMatcher) conceptsOf(text string) map[string]bool {
	concepts := make(map[string]bool)
	for _, token := range tokenize(text) {
		if canonical, ok := m.concepts[token]; ok {
			concepts[canonical] = true
			continue
		}
		concepts[token] = true
	}
	return concepts
}

// stopwords are dropped before scoring; they carry no capability signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "on": true,
	"in": true, "for": true, "to": true, "with": true, "about": true,
	"recent": true, "new": true, "please": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = stem(f)
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// stem strips a few common suffixes; enough for capability vocabulary,
// not a general-purpose stemmer.
func stem(word string) string {
	for _, suffix := range []string{"ing", "ers", "ies", "es", "ed", "s"} {
		if strings.HasSuffix(word, suffix) && len(word)-len(suffix) >= 3 {
			return word[:len(word)-len(suffix)]
		}
	}
	return word
}
