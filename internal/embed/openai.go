package embed

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder embeds via the OpenAI embeddings API. A base URL override
// also points it at any OpenAI-compatible endpoint (Ollama, OpenRouter).
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	maxRetries int
}

// NewOpenAIEmbedder creates an embedder for OpenAI or a compatible endpoint.
func NewOpenAIEmbedder(apiKey, model, baseURL string) *OpenAIEmbedder {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		maxRetries: defaultMaxRetries,
	}
}

// Embed generates an embedding vector for the given text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}

	return withRetry(ctx, e.maxRetries, func() ([]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("no embedding data in response")
		}
		return resp.Data[0].Embedding, nil
	})
}
