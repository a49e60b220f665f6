package retrieve

import (
	"strings"
	"unicode"
)

const maxKeywords = 10

// ExtractKeywords derives search terms from a question: lowercase word
// tokens with short words and stopwords dropped, expanded through the
// configured synonym map. Standalone 1-2 digit numbers are kept since
// they usually reference dates. The result is capped and deterministic.
func (r *Retriever) ExtractKeywords(question string) []string {
	tokens := tokenize(question)

	seen := make(map[string]bool)
	var keywords []string
	add := func(w string) {
		if !seen[w] && len(keywords) < maxKeywords {
			seen[w] = true
			keywords = append(keywords, w)
		}
	}

	for _, tok := range tokens {
		if isSmallNumber(tok) {
			add(tok)
			continue
		}
		if len([]rune(tok)) < 4 || r.stopset[tok] {
			continue
		}
		add(tok)
		for _, syn := range r.cfg.Synonyms[tok] {
			add(strings.ToLower(syn))
		}
	}
	return keywords
}

// fallbackTokens returns the first max whole-word tokens longer than
// two characters, used by the naive substring phase.
func fallbackTokens(question string, max int) []string {
	var out []string
	for _, tok := range tokenize(question) {
		if len([]rune(tok)) > 2 {
			out = append(out, tok)
			if len(out) == max {
				break
			}
		}
	}
	return out
}

// tokenize splits on non-word characters and lowercases.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

// isSmallNumber reports whether tok is a standalone 1-2 digit number.
func isSmallNumber(tok string) bool {
	if len(tok) == 0 || len(tok) > 2 {
		return false
	}
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
