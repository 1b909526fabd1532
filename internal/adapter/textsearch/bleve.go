package textsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/analysis/token/lowercase"
	regexptokenizer "github.com/blevesearch/bleve/analysis/tokenizer/regexp"
	"github.com/blevesearch/bleve/mapping"
	"github.com/blevesearch/bleve/search/query"
	"github.com/google/uuid"

	"codesearch/internal/adapter/analyzer"
	"codesearch/internal/domain"
	"codesearch/internal/port"
)

const (
	indexSchemaVersion = "1"
	codeAnalyzer       = "code"
	codeTokenizer      = "code_ident"

	// maxTermHits bounds the line documents read back per query term.
	maxTermHits = 5000
)

var keySchema = []byte("schema_version")

// Bleve is the indexed backend. Every non-blank line is one document with the
// fields path, line, content and parts, where parts holds the identifier
// pieces of the line so a typo inside a compound name can still match.
type Bleve struct {
	dir       string
	logger    *slog.Logger
	tokenizer *analyzer.Tokenizer

	mu    sync.RWMutex
	index bleve.Index
}

// fileRecord is kept in the index's internal storage under "file:<path>".
type fileRecord struct {
	Hash  string `json:"hash"`
	Lines []int  `json:"lines"`
}

// OpenBleve opens the index in dir, creating it when missing. An index written
// with another schema is recreated. Failures are returned as
// *domain.IndexBackendInitError.
func OpenBleve(dir string, logger *slog.Logger) (*Bleve, error) {
	if logger == nil {
		logger = slog.Default()
	}

	idx, err := openIndex(dir, logger)
	if err != nil {
		return nil, &domain.IndexBackendInitError{Backend: string(port.BackendIndexed), Err: err}
	}
	return &Bleve{
		dir:       dir,
		logger:    logger,
		tokenizer: analyzer.NewTokenizer(false),
		index:     idx,
	}, nil
}

func openIndex(dir string, logger *slog.Logger) (bleve.Index, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return createIndex(dir)
	}

	idx, err := bleve.OpenUsing(dir, map[string]interface{}{"bolt_timeout": "2s"})
	if err != nil {
		return nil, err
	}
	version, err := idx.GetInternal(keySchema)
	if err != nil {
		idx.Close()
		return nil, err
	}
	if string(version) == indexSchemaVersion {
		return idx, nil
	}

	logger.Warn("text index schema changed, recreating", "dir", dir, "found", string(version), "want", indexSchemaVersion)
	idx.Close()
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	return createIndex(dir)
}

func createIndex(dir string) (bleve.Index, error) {
	m, err := buildMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.New(dir, m)
	if err != nil {
		return nil, err
	}
	if err := idx.SetInternal(keySchema, []byte(indexSchemaVersion)); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

func buildMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomTokenizer(codeTokenizer, map[string]interface{}{
		"type":   regexptokenizer.Name,
		"regexp": `[\p{L}\p{N}_]+`,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register tokenizer: %w", err)
	}
	err = im.AddCustomAnalyzer(codeAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     codeTokenizer,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register analyzer: %w", err)
	}

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.IncludeInAll = false

	lineField := bleve.NewNumericFieldMapping()
	lineField.IncludeInAll = false

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = codeAnalyzer

	partsField := bleve.NewTextFieldMapping()
	partsField.Analyzer = codeAnalyzer
	partsField.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("path", pathField)
	doc.AddFieldMappingsAt("line", lineField)
	doc.AddFieldMappingsAt("content", contentField)
	doc.AddFieldMappingsAt("parts", partsField)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = codeAnalyzer
	return im, nil
}

func fileKey(path string) []byte {
	return []byte("file:" + path)
}

func docID(path string, line int) string {
	return path + "#" + strconv.Itoa(line)
}

func (b *Bleve) record(path string) (*fileRecord, error) {
	data, err := b.index.GetInternal(fileKey(path))
	if err != nil || data == nil {
		return nil, err
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// IndexFile replaces the line documents of path. Content whose hash matches
// the indexed version is skipped.
func (b *Bleve) IndexFile(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	hash := domain.ContentHash(content)
	old, err := b.record(path)
	if err != nil {
		return fmt.Errorf("failed to read index record for %s: %w", path, err)
	}
	if old != nil && old.Hash == hash {
		return nil
	}

	batch := b.index.NewBatch()
	if old != nil {
		for _, line := range old.Lines {
			batch.Delete(docID(path, line))
		}
	}

	rec := fileRecord{Hash: hash}
	for i, line := range strings.Split(domain.NormalizeContent(content), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := i + 1
		err := batch.Index(docID(path, n), map[string]interface{}{
			"path":    path,
			"line":    float64(n),
			"content": line,
			"parts":   strings.Join(b.tokenizer.TokenizeParts(line), " "),
		})
		if err != nil {
			return err
		}
		rec.Lines = append(rec.Lines, n)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	batch.SetInternal(fileKey(path), data)

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index %s: %w", path, err)
	}
	return nil
}

func (b *Bleve) RemoveFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.record(path)
	if err != nil || rec == nil {
		return err
	}
	batch := b.index.NewBatch()
	for _, line := range rec.Lines {
		batch.Delete(docID(path, line))
	}
	batch.DeleteInternal(fileKey(path))
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to remove %s from text index: %w", path, err)
	}
	return nil
}

func (b *Bleve) Search(ctx context.Context, q domain.TextQuery) ([]domain.SearchHit, error) {
	terms := parseTerms(q)
	if len(terms) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	lines := make(map[string]*lineHit)
	var order []string
	collect := func(t searchTerm, qry query.Query, exact bool) error {
		req := bleve.NewSearchRequestOptions(qry, maxTermHits, 0, false)
		req.Fields = []string{"path", "line", "content"}
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return err
		}
		for _, hit := range res.Hits {
			h, ok := lines[hit.ID]
			if !ok {
				path, _ := hit.Fields["path"].(string)
				line, _ := hit.Fields["line"].(float64)
				text, _ := hit.Fields["content"].(string)
				h = &lineHit{path: path, line: int(line), text: text, matched: make(map[string]bool)}
				lines[hit.ID] = h
				order = append(order, hit.ID)
			}
			if prev, seen := h.matched[t.text]; !seen || (!prev && exact) {
				h.matched[t.text] = exact
			}
		}
		return nil
	}

	for _, t := range terms {
		if err := collect(t, exactQuery(t), true); err != nil {
			return nil, fmt.Errorf("text search failed: %w", err)
		}
		if t.fuzzy() {
			if err := collect(t, fuzzyQuery(t), false); err != nil {
				return nil, fmt.Errorf("fuzzy text search failed: %w", err)
			}
		}
	}

	hits := make([]domain.SearchHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, lines[id].toSearchHit(len(terms)))
	}
	sortHits(hits)
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

// exactQuery matches the whole term as a line token or as an identifier part.
func exactQuery(t searchTerm) query.Query {
	content := bleve.NewTermQuery(t.text)
	content.SetField("content")
	parts := bleve.NewTermQuery(t.text)
	parts.SetField("parts")
	return bleve.NewDisjunctionQuery(content, parts)
}

// fuzzyQuery matches line tokens within the term's distance, or lines where
// every identifier part of the term is close to some part on the line.
func fuzzyQuery(t searchTerm) query.Query {
	whole := bleve.NewFuzzyQuery(t.text)
	whole.SetField("content")
	whole.SetFuzziness(t.edits)

	if len(t.parts) < 2 {
		return whole
	}

	pieces := make([]query.Query, 0, len(t.parts))
	for _, p := range t.parts {
		edits := min(t.edits, editsFor(p, MaxEditDistance))
		if edits == 0 {
			tq := bleve.NewTermQuery(p)
			tq.SetField("parts")
			pieces = append(pieces, tq)
			continue
		}
		fq := bleve.NewFuzzyQuery(p)
		fq.SetField("parts")
		fq.SetFuzziness(edits)
		pieces = append(pieces, fq)
	}
	return bleve.NewDisjunctionQuery(whole, bleve.NewConjunctionQuery(pieces...))
}

// ClearIndex builds an empty index beside the current one and swaps it in
// under the write lock, so readers see either the old or the new index.
func (b *Bleve) ClearIndex(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp := b.dir + ".tmp-" + uuid.NewString()
	fresh, err := createIndex(tmp)
	if err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("failed to build empty text index: %w", err)
	}
	if err := fresh.Close(); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.index.Close(); err != nil {
		b.logger.Warn("closing text index before swap failed", "error", err)
	}
	trash := b.dir + ".old-" + uuid.NewString()
	if err := os.Rename(b.dir, trash); err != nil {
		return b.reopen(fmt.Errorf("failed to move text index aside: %w", err), tmp)
	}
	if err := os.Rename(tmp, b.dir); err != nil {
		os.Rename(trash, b.dir)
		return b.reopen(fmt.Errorf("failed to swap in new text index: %w", err), tmp)
	}

	idx, err := bleve.Open(b.dir)
	if err != nil {
		return fmt.Errorf("failed to open swapped text index: %w", err)
	}
	b.index = idx
	if err := os.RemoveAll(trash); err != nil {
		b.logger.Warn("failed to remove old text index", "dir", trash, "error", err)
	}
	return nil
}

// reopen restores the current index after a failed swap and returns cause.
func (b *Bleve) reopen(cause error, tmp string) error {
	os.RemoveAll(tmp)
	idx, err := bleve.Open(b.dir)
	if err != nil {
		return errors.Join(cause, err)
	}
	b.index = idx
	return cause
}

func (b *Bleve) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

func (b *Bleve) Kind() port.BackendKind { return port.BackendIndexed }

func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
