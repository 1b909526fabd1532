package chunker

import (
	"codesearch/internal/domain"
)

// WindowChunker cuts files into fixed line windows with overlap. Every chunk is Generic.
type WindowChunker struct {
	lines   int
	overlap int
}

func NewWindowChunker(lines, overlap int) *WindowChunker {
	if lines <= 0 {
		lines = DefaultOptions().WindowLines
	}
	if overlap < 0 || overlap >= lines {
		overlap = 0
	}
	return &WindowChunker{
		lines:   lines,
		overlap: overlap,
	}
}

func (c *WindowChunker) Chunk(path, content string) ([]domain.Chunk, error) {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil, nil
	}
	return c.chunkLines(path, lines), nil
}

func (c *WindowChunker) chunkLines(path string, lines []string) []domain.Chunk {
	var chunks []domain.Chunk
	step := c.lines - c.overlap

	for start := 0; start < len(lines); start += step {
		end := start + c.lines
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, newChunk(path, lines, start, end, domain.KindGeneric))
		if end == len(lines) {
			break
		}
	}

	return chunks
}
