package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"codesearch/internal/domain"
)

// Options configures chunk sizes.
type Options struct {
	WindowLines   int
	WindowOverlap int
	MaxChunkLines int
}

// DefaultOptions returns 40-line windows with a 5-line overlap and 100-line structural chunks.
func DefaultOptions() Options {
	return Options{WindowLines: 40, WindowOverlap: 5, MaxChunkLines: 100}
}

// RegexChunker splits source files at function, class and module openers
// found by a per-extension rule table. Files without rules or without any
// opener are cut into overlapping line windows.
type RegexChunker struct {
	maxLines int
	window   *WindowChunker
}

func NewRegexChunker(opts Options) *RegexChunker {
	if opts.MaxChunkLines <= 0 {
		opts.MaxChunkLines = DefaultOptions().MaxChunkLines
	}
	return &RegexChunker{
		maxLines: opts.MaxChunkLines,
		window:   NewWindowChunker(opts.WindowLines, opts.WindowOverlap),
	}
}

type boundary struct {
	start int // 0-based, includes leading comments and decorators
	kind  domain.ChunkKind
}

func (c *RegexChunker) Chunk(path, content string) ([]domain.Chunk, error) {
	lines := splitLines(content)
	if len(lines) == 0 || strings.TrimSpace(content) == "" {
		return nil, nil
	}

	rules := rulesFor(path)
	if rules == nil {
		return c.window.chunkLines(path, lines), nil
	}

	bounds := findBoundaries(rules, lines)
	if len(bounds) == 0 {
		return c.window.chunkLines(path, lines), nil
	}

	var chunks []domain.Chunk

	if bounds[0].start > 0 {
		chunks = c.appendSegment(chunks, path, lines, 0, bounds[0].start, domain.KindModule)
	}
	for i, b := range bounds {
		end := len(lines)
		if i+1 < len(bounds) {
			end = bounds[i+1].start
		}
		chunks = c.appendSegment(chunks, path, lines, b.start, end, b.kind)
	}

	return chunks, nil
}

// findBoundaries returns opener positions, pulled up over directly preceding
// comment and decorator lines but never past the previous opener.
func findBoundaries(rules *languageRules, lines []string) []boundary {
	var bounds []boundary
	lastOpener := -1

	for i, line := range lines {
		kind, ok := rules.match(line)
		if !ok {
			continue
		}
		start := i
		for start-1 > lastOpener && rules.isPrefix(lines[start-1]) {
			start--
		}
		bounds = append(bounds, boundary{start: start, kind: kind})
		lastOpener = i
	}

	return bounds
}

// appendSegment emits lines[start:end) with trailing blank lines removed,
// split into pieces of at most maxLines.
func (c *RegexChunker) appendSegment(chunks []domain.Chunk, path string, lines []string, start, end int, kind domain.ChunkKind) []domain.Chunk {
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for s := start; s < end; s += c.maxLines {
		e := s + c.maxLines
		if e > end {
			e = end
		}
		chunks = append(chunks, newChunk(path, lines, s, e, kind))
	}
	return chunks
}

// newChunk builds a chunk from lines[start:end). Stored lines are 1-based.
func newChunk(path string, lines []string, start, end int, kind domain.ChunkKind) domain.Chunk {
	content := strings.Join(lines[start:end], "\n")
	return domain.Chunk{
		ID:          generateChunkID(path, start+1, end, kind),
		FilePath:    path,
		StartLine:   start + 1,
		EndLine:     end,
		Content:     content,
		Kind:        kind,
		ContentHash: domain.ContentHash(content),
	}
}

// splitLines splits on LF after normalizing CRLF. A trailing newline does not
// produce an extra empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func generateChunkID(path string, startLine, endLine int, kind domain.ChunkKind) string {
	data := fmt.Sprintf("%s:%d-%d:%s", path, startLine, endLine, kind)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
