package retrieval

import (
	"regexp"
	"strings"
)

// stopWords are filtered out of key-term extraction. The list leans
// academic: question words students type ("explain", "difference") carry
// no retrieval signal on their own.
var stopWords = map[string]bool{
	"the": true, "and": true, "or": true, "but": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"what": true, "which": true, "who": true, "how": true, "why": true,
	"when": true, "where": true, "does": true, "did": true, "can": true,
	"could": true, "would": true, "should": true, "about": true,
	"between": true, "explain": true, "describe": true, "define": true,
	"difference": true, "compare": true, "tell": true, "give": true,
	"please": true, "this": true, "that": true, "these": true,
	"those": true, "from": true, "into": true,
}

var termSeparators = regexp.MustCompile(`[,\s\-_]+`)

// keyTerms extracts up to five search terms from a query: lowercased,
// split on separators, stop words and short tokens dropped.
func keyTerms(query string) []string {
	var terms []string
	for _, raw := range termSeparators.Split(strings.ToLower(query), -1) {
		term := strings.TrimSpace(raw)
		if len(term) <= 2 || stopWords[term] {
			continue
		}
		terms = append(terms, term)
		if len(terms) == 5 {
			break
		}
	}
	return terms
}

var titleNoise = strings.NewReplacer(
	"Chapter", "",
	"Section", "",
	".pdf", "",
	".pptx", "",
	".docx", "",
)

// topicFromTitle condenses a document title into a short topic label for
// references: structural words and file extensions stripped, first three
// meaningful words kept.
func topicFromTitle(title string) string {
	if title == "" {
		return "General"
	}

	cleaned := strings.TrimSpace(titleNoise.Replace(title))

	fields := strings.Fields(cleaned)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	var words []string
	for _, w := range fields {
		if len(w) > 2 {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return "General Topic"
	}
	return strings.Join(words, " ")
}
