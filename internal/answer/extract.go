package answer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	extractPassages   = 2
	sentencesPerChunk = 2
	previewRunes      = 200
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "why": {}, "how": {}, "does": {}, "did": {}, "can": {},
	"could": {}, "should": {}, "would": {}, "with": {}, "from": {}, "that": {}, "this": {},
	"there": {}, "their": {}, "have": {}, "has": {}, "about": {}, "into": {}, "our": {}, "your": {},
	"you": {}, "any": {}, "all": {}, "not": {}, "but": {}, "its": {}, "them": {}, "they": {},
	"les": {}, "des": {}, "une": {}, "est": {}, "pour": {}, "que": {}, "qui": {}, "dans": {},
	"quel": {}, "quelle": {}, "quels": {}, "quelles": {}, "sont": {}, "avec": {},
}

// Extract builds an answer without a model: the sentences of the top
// passages that mention a keyword of the question, or a preview of the best
// passage when none do.
func Extract(question string, sources []vectorstore.SearchResult) string {
	if len(sources) == 0 {
		return NoDocumentsMessage
	}
	keywords := Keywords(question)

	var b strings.Builder
	b.WriteString("Based on the documents:\n")
	matched := false
	for _, src := range sources[:min(extractPassages, len(sources))] {
		n := 0
		for _, sentence := range sentences(src.Content) {
			if n == sentencesPerChunk {
				break
			}
			if !mentions(sentence, keywords) {
				continue
			}
			if !strings.HasSuffix(sentence, ".") {
				sentence += "."
			}
			fmt.Fprintf(&b, "\n• %s", sentence)
			n++
			matched = true
		}
	}
	if !matched {
		fmt.Fprintf(&b, "\n%s", preview(sources[0].Content))
	}
	fmt.Fprintf(&b, "\n\n(Source: %d document(s) analyzed)", len(sources))
	return b.String()
}

// Keywords lowercases question and keeps words of three or more letters
// that are not stopwords, in order of first appearance.
func Keywords(question string) []string {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func mentions(sentence string, keywords []string) bool {
	lower := strings.ToLower(sentence)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func sentences(text string) []string {
	var out []string
	for _, s := range strings.Split(text, ". ") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func preview(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= previewRunes {
		return string(r)
	}
	return string(r[:previewRunes]) + "..."
}
