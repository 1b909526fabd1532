package analyzer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Tokenizer splits source text and queries into lowercase terms.
type Tokenizer struct {
	stopwords map[string]struct{}
	dropStop  bool
}

// NewTokenizer creates a new Tokenizer. With dropStopwords set, common English
// words are removed, which suits natural-language queries more than code.
func NewTokenizer(dropStopwords bool) *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		dropStop:  dropStopwords,
	}
}

// Tokenize splits text into lowercase identifier tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len(word) < 2 {
			continue
		}
		if t.dropStop {
			if _, isStop := t.stopwords[word]; isStop {
				continue
			}
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// TokenizeParts tokenizes text and expands every identifier into its parts,
// keeping the whole identifier as well.
func (t *Tokenizer) TokenizeParts(text string) []string {
	var out []string
	for _, tok := range splitWords(text) {
		lower := strings.ToLower(tok)
		if len(lower) >= 2 {
			out = append(out, lower)
		}
		parts := SplitIdentifier(tok)
		if len(parts) < 2 {
			continue
		}
		for _, p := range parts {
			if len(p) >= 2 {
				out = append(out, p)
			}
		}
	}
	return out
}

// SplitIdentifier breaks an identifier on underscores, hyphens and camelCase
// boundaries. Parts are lowercased. "parseHTTPRequest" gives parse, http, request.
func SplitIdentifier(ident string) []string {
	var parts []string
	var current []rune

	flush := func() {
		if len(current) > 0 {
			parts = append(parts, strings.ToLower(string(current)))
			current = current[:0]
		}
	}

	runes := []rune(ident)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-':
			flush()
			continue
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
			continue
		}

		if i > 0 && len(current) > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				// acronym followed by a word: HTTPRequest -> HTTP, Request
				flush()
			case unicode.IsDigit(r) != unicode.IsDigit(prev):
				flush()
			}
		}
		current = append(current, r)
	}
	flush()

	return parts
}

// QueryTerm is one term of a lexical query.
type QueryTerm struct {
	Text  string
	Fuzzy bool
	// Edits is the explicit edit distance from term~N syntax, or -1 when unset.
	Edits int
}

var fuzzySuffix = regexp.MustCompile(`^(.+?)~([0-9])?$`)

// ParseQuery splits a query into terms. A trailing ~ marks a term fuzzy and
// ~N sets its edit distance.
func ParseQuery(text string) []QueryTerm {
	var terms []QueryTerm
	for _, field := range strings.Fields(text) {
		term := QueryTerm{Edits: -1}
		if m := fuzzySuffix.FindStringSubmatch(field); m != nil {
			field = m[1]
			term.Fuzzy = true
			if m[2] != "" {
				n, _ := strconv.Atoi(m[2])
				term.Edits = n
			}
		}
		for _, w := range splitWords(field) {
			t := term
			t.Text = w
			terms = append(terms, t)
		}
	}
	return terms
}

// splitWords splits text into words using unicode word boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// defaultStopwords returns a set of common English stopwords.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
