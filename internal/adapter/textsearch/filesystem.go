package textsearch

import (
	"context"
	"sort"
	"strings"

	"codesearch/internal/adapter/analyzer"
	"codesearch/internal/adapter/fs"
	"codesearch/internal/domain"
	"codesearch/internal/port"
)

// Filesystem scans the project tree on every search. It keeps no index, so
// IndexFile, RemoveFile and ClearIndex do nothing.
type Filesystem struct {
	walker        port.FileWalker
	reader        port.FileReader
	root          string
	caseSensitive bool
	tokenizer     *analyzer.Tokenizer
}

func NewFilesystem(walker port.FileWalker, root string, caseSensitive bool) *Filesystem {
	return &Filesystem{
		walker:        walker,
		reader:        fs.Reader{},
		root:          root,
		caseSensitive: caseSensitive,
		tokenizer:     analyzer.NewTokenizer(false),
	}
}

func (f *Filesystem) Search(ctx context.Context, q domain.TextQuery) ([]domain.SearchHit, error) {
	terms := parseTerms(q)
	if len(terms) == 0 {
		return nil, nil
	}

	files, err := f.walker.Walk(ctx, f.root)
	if err != nil {
		return nil, err
	}

	var hits []domain.SearchHit
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := f.reader.ReadFile(file.Path)
		if err != nil || strings.IndexByte(content, 0) >= 0 {
			continue
		}
		for _, h := range f.scan(file.RelPath, content, terms) {
			hits = append(hits, h.toSearchHit(len(terms)))
		}
	}

	sortHits(hits)
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (f *Filesystem) scan(path, content string, terms []searchTerm) []*lineHit {
	var out []*lineHit
	lines := strings.Split(domain.NormalizeContent(content), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		haystack := line
		if !f.caseSensitive {
			haystack = strings.ToLower(line)
		}

		var hit *lineHit
		var words, parts []string
		for _, t := range terms {
			exact := f.containsTerm(line, haystack, t)
			matched := exact
			if !exact && t.fuzzy() {
				if words == nil {
					words = f.tokenizer.Tokenize(line)
					parts = f.tokenizer.TokenizeParts(line)
				}
				matched = fuzzyMatch(t, words, parts)
			}
			if !matched {
				continue
			}
			if hit == nil {
				hit = &lineHit{path: path, line: i + 1, text: line, matched: make(map[string]bool)}
			}
			hit.matched[t.text] = exact
		}
		if hit != nil {
			out = append(out, hit)
		}
	}
	return out
}

// containsTerm is a substring test, against the original line with the term as
// typed when the search is case-sensitive.
func (f *Filesystem) containsTerm(line, haystack string, t searchTerm) bool {
	if f.caseSensitive {
		return strings.Contains(line, t.raw)
	}
	return strings.Contains(haystack, t.text)
}

// fuzzyMatch accepts a word within the term's distance, or, for multi-part
// identifiers, every part of the term being close to some part on the line.
func fuzzyMatch(t searchTerm, words, parts []string) bool {
	for _, w := range words {
		if withinDistance(w, t.text, t.edits) {
			return true
		}
	}
	if len(t.parts) < 2 {
		return false
	}
	for _, p := range t.parts {
		edits := min(t.edits, editsFor(p, MaxEditDistance))
		found := false
		for _, lp := range parts {
			if withinDistance(lp, p, edits) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sortHits orders hits by score, then path, then line.
func sortHits(hits []domain.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].FilePath != hits[j].FilePath {
			return hits[i].FilePath < hits[j].FilePath
		}
		return hits[i].StartLine < hits[j].StartLine
	})
}

func (f *Filesystem) IndexFile(context.Context, string, string) error { return nil }

func (f *Filesystem) RemoveFile(context.Context, string) error { return nil }

func (f *Filesystem) ClearIndex(context.Context) error { return nil }

func (f *Filesystem) DocCount() (uint64, error) { return 0, nil }

func (f *Filesystem) Kind() port.BackendKind { return port.BackendFilesystem }

func (f *Filesystem) Close() error { return nil }
