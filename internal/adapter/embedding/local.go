package embedding

import (
	"context"
	"hash/fnv"

	"codesearch/internal/adapter/analyzer"
)

// LocalDimension is the vector size of the built-in hashing model.
const LocalDimension = 384

// HashingModel is a deterministic, offline embedding model. It projects
// identifier tokens, their parts and character trigrams into a fixed number
// of signed buckets (the feature hashing trick). Similar identifiers share
// trigrams and land close together.
type HashingModel struct {
	dim       int
	tokenizer *analyzer.Tokenizer
}

func NewHashingModel(dim int) *HashingModel {
	if dim <= 0 {
		dim = LocalDimension
	}
	return &HashingModel{
		dim:       dim,
		tokenizer: analyzer.NewTokenizer(true),
	}
}

func (m *HashingModel) EmbedRaw(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *HashingModel) vector(text string) []float32 {
	v := make([]float32, m.dim)

	tokens := m.tokenizer.TokenizeParts(text)
	if len(tokens) == 0 {
		m.add(v, "\x00empty", 1)
		return v
	}

	for _, tok := range tokens {
		m.add(v, tok, 1.0)
		padded := "^" + tok + "$"
		for i := 0; i+3 <= len(padded); i++ {
			m.add(v, padded[i:i+3], 0.5)
		}
	}
	return v
}

func (m *HashingModel) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(m.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func (m *HashingModel) Dimension() int {
	return m.dim
}

func (m *HashingModel) Name() string {
	return "hashing-v1"
}
