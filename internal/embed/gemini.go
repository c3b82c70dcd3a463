package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEmbedder embeds via the Google generative AI API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	maxRetries int
}

// NewGeminiEmbedder creates an embedder for Gemini embedding models
// (e.g. text-embedding-004).
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEmbedder{
		client:     client,
		model:      model,
		maxRetries: defaultMaxRetries,
	}, nil
}

// Embed generates an embedding vector for the given text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}

	em := e.client.EmbeddingModel(e.model)
	return withRetry(ctx, e.maxRetries, func() ([]float32, error) {
		res, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding values in response")
		}
		return res.Embedding.Values, nil
	})
}

// Close releases the underlying gRPC connection.
func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}
