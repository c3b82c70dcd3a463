// Package embed provides text-to-vector embedding for fact deduplication.
//
// Providers sit behind the Embedder interface; the factory picks one from a
// "provider/model" spec string and fronts it with an in-memory TTL cache,
// since re-extracted facts restate the same values over and over. Embedding
// failure is non-fatal to the pipeline: dedup is skipped for that item and
// the fact is committed anyway.
package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultCacheTTL   = time.Hour
)

// Embedder generates an embedding vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds a cached Embedder from a "provider/model" spec string, e.g.
// "openai/text-embedding-3-small" or "ollama/nomic-embed-text".
//
// API keys come from the environment: OPENAI_API_KEY, GEMINI_API_KEY,
// OPENROUTER_API_KEY. Ollama needs no key; its host comes from OLLAMA_HOST
// (default http://localhost:11434).
func New(ctx context.Context, spec string) (Embedder, error) {
	provider, model, err := parseModelSpec(spec)
	if err != nil {
		return nil, err
	}

	var inner Embedder
	switch provider {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		inner = NewOpenAIEmbedder(key, model, "")

	case "openrouter":
		key := os.Getenv("OPENROUTER_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is not set")
		}
		inner = NewOpenAIEmbedder(key, model, "https://openrouter.ai/api/v1")

	case "ollama":
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = "http://localhost:11434"
		}
		inner = NewOpenAIEmbedder("ollama", model, strings.TrimRight(host, "/")+"/v1")

	case "gemini", "google":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		inner, err = NewGeminiEmbedder(ctx, key, model)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (use: openai, gemini, ollama, openrouter)", provider)
	}

	return NewCached(inner, defaultCacheTTL), nil
}

// withRetry runs one embedding attempt up to maxRetries+1 times with
// exponential backoff (1s, 2s, 4s).
func withRetry(ctx context.Context, maxRetries int, attempt func() ([]float32, error)) ([]float32, error) {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		vec, err := attempt()
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if i == maxRetries {
			break
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", maxRetries+1, lastErr)
}

// parseModelSpec splits a "provider/model" string. The model part may itself
// contain slashes.
func parseModelSpec(spec string) (provider, model string, err error) {
	slash := strings.Index(spec, "/")
	if slash <= 0 || slash == len(spec)-1 {
		return "", "", fmt.Errorf("invalid embedding spec %q: expected provider/model", spec)
	}
	return strings.ToLower(spec[:slash]), spec[slash+1:], nil
}
