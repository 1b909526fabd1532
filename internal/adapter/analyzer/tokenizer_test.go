package analyzer

import (
	"reflect"
	"testing"
)

func TestTokenizer_Tokenize(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("func calculateSum(a, b int) int")
	expected := []string{"func", "calculatesum", "int", "int"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_StopwordRemoval(t *testing.T) {
	tok := NewTokenizer(true)

	tokens := tok.Tokenize("where is the config loaded")
	for _, token := range tokens {
		if token == "the" || token == "where" || token == "is" {
			t.Errorf("stopword %q should be removed, got %v", token, tokens)
		}
	}
	if len(tokens) != 2 {
		t.Errorf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}
}

func TestTokenizer_KeepsStopwordsForCode(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("for if")
	if len(tokens) != 2 {
		t.Errorf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}
}

func TestTokenizer_TokenizeParts(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.TokenizeParts("calculate_sum")
	expected := []string{"calculate_sum", "calculate", "sum"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_EmptyInput(t *testing.T) {
	tok := NewTokenizer(true)

	if tokens := tok.Tokenize(""); len(tokens) != 0 {
		t.Errorf("expected 0 tokens for empty input, got %d", len(tokens))
	}
	if tokens := tok.TokenizeParts(""); len(tokens) != 0 {
		t.Errorf("expected 0 parts for empty input, got %d", len(tokens))
	}
}

func TestSplitIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"calculate_sum", []string{"calculate", "sum"}},
		{"calculateSum", []string{"calculate", "sum"}},
		{"CalculateSum", []string{"calculate", "sum"}},
		{"parseHTTPRequest", []string{"parse", "http", "request"}},
		{"kebab-case-name", []string{"kebab", "case", "name"}},
		{"sha256sum", []string{"sha", "256", "sum"}},
		{"plain", []string{"plain"}},
		{"__init__", []string{"init"}},
	}

	for _, tt := range tests {
		got := SplitIdentifier(tt.input)
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("SplitIdentifier(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseQuery(t *testing.T) {
	terms := ParseQuery("calculat_sum~1 render~ config")
	if len(terms) != 3 {
		t.Fatalf("expected 3 terms, got %d: %+v", len(terms), terms)
	}

	if terms[0].Text != "calculat_sum" || !terms[0].Fuzzy || terms[0].Edits != 1 {
		t.Errorf("unexpected first term: %+v", terms[0])
	}
	if terms[1].Text != "render" || !terms[1].Fuzzy || terms[1].Edits != -1 {
		t.Errorf("unexpected second term: %+v", terms[1])
	}
	if terms[2].Text != "config" || terms[2].Fuzzy {
		t.Errorf("unexpected third term: %+v", terms[2])
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{"hello world", 2},
		{"hello_world", 1},
		{"hello-world", 2},
		{"func(x, y)", 3},
		{"CamelCase", 1},
		{"snake_case_name", 1},
		{"123numbers456", 1},
	}

	for _, tt := range tests {
		words := splitWords(tt.input)
		if len(words) != tt.expected {
			t.Errorf("splitWords(%q) = %d words, want %d: %v", tt.input, len(words), tt.expected, words)
		}
	}
}
