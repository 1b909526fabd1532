package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIModel calls any OpenAI-compatible /embeddings endpoint, including Ollama.
type OpenAIModel struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAIModel builds a client from the key in apiKeyEnv. An empty baseURL
// means api.openai.com. Local endpoints such as Ollama accept any key.
func NewOpenAIModel(apiKeyEnv, model, baseURL string, dimension int) (*OpenAIModel, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		if baseURL == "" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
		}
		apiKey = "ollama"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if dimension <= 0 {
		dimension = defaultDimension(model)
	}

	return &OpenAIModel{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
	}, nil
}

func defaultDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	}
	return 1536
}

func (m *OpenAIModel) EmbedRaw(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(m.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned from API")
	}

	out := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(out) {
			continue
		}
		v := make([]float32, len(data.Embedding))
		for i := range data.Embedding {
			v[i] = float32(data.Embedding[i])
		}
		out[data.Index] = v
	}
	return out, nil
}

func (m *OpenAIModel) Dimension() int {
	return m.dimension
}

func (m *OpenAIModel) Name() string {
	return m.model
}
