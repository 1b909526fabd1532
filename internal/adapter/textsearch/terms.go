package textsearch

import (
	"strings"

	"codesearch/internal/adapter/analyzer"
	"codesearch/internal/domain"
)

// MaxEditDistance is the largest edit distance any backend accepts.
const MaxEditDistance = 2

// searchTerm is a parsed query term with its resolved edit distance.
// edits is zero for exact terms.
type searchTerm struct {
	text  string
	raw   string
	edits int
	parts []string
}

func (t searchTerm) fuzzy() bool { return t.edits > 0 }

// parseTerms turns a text query into lowercase search terms. A term is fuzzy
// when the query asks for it or uses term~ syntax; its distance is the explicit
// ~N, or one edit per four characters, never above the configured maximum.
func parseTerms(q domain.TextQuery) []searchTerm {
	maxEdits := MaxEditDistance
	if q.MaxEdits != nil {
		maxEdits = max(0, min(*q.MaxEdits, MaxEditDistance))
	}

	seen := make(map[string]struct{})
	var terms []searchTerm
	for _, qt := range analyzer.ParseQuery(q.Text) {
		text := strings.ToLower(qt.Text)
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}

		t := searchTerm{text: text, raw: qt.Text, parts: analyzer.SplitIdentifier(qt.Text)}
		if qt.Fuzzy || q.Fuzzy {
			if qt.Edits >= 0 {
				t.edits = min(qt.Edits, maxEdits)
			} else {
				t.edits = editsFor(text, maxEdits)
			}
		}
		terms = append(terms, t)
	}
	return terms
}

func editsFor(term string, maxEdits int) int {
	return min(maxEdits, len([]rune(term))/4)
}

// lineHit collects the terms matched by one line.
type lineHit struct {
	path    string
	line    int
	text    string
	matched map[string]bool // term -> matched exactly
}

func (h *lineHit) toSearchHit(total int) domain.SearchHit {
	terms := make([]string, 0, len(h.matched))
	source := domain.SourceExact
	for term, exact := range h.matched {
		terms = append(terms, term)
		if !exact {
			source = domain.SourceFuzzy
		}
	}
	sortStrings(terms)

	coverage := 0.0
	if total > 0 {
		coverage = float64(len(terms)) / float64(total)
	}
	return domain.SearchHit{
		FilePath:     h.path,
		StartLine:    h.line,
		EndLine:      h.line,
		Score:        coverage,
		Source:       source,
		MatchedSpans: []domain.LineRange{{Start: h.line, End: h.line}},
		MatchedTerms: terms,
		Coverage:     coverage,
		Line:         h.text,
	}
}
