package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// NewClient builds an extraction Client from a "provider/model" spec string,
// e.g. "openai/gpt-4o-mini" or "anthropic/claude-3-5-haiku-latest".
//
// API keys come from the environment: OPENAI_API_KEY, ANTHROPIC_API_KEY,
// GEMINI_API_KEY, OPENROUTER_API_KEY. Ollama needs no key; its host comes
// from OLLAMA_HOST (default http://localhost:11434).
func NewClient(ctx context.Context, spec string) (Client, error) {
	provider, model, err := parseModelSpec(spec)
	if err != nil {
		return nil, err
	}

	switch provider {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return NewOpenAIClient(key, model, "", "openai"), nil

	case "openrouter":
		key := os.Getenv("OPENROUTER_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is not set")
		}
		return NewOpenAIClient(key, model, "https://openrouter.ai/api/v1", "openrouter"), nil

	case "ollama":
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = "http://localhost:11434"
		}
		// Ollama ignores the key but the client config requires one.
		return NewOpenAIClient("ollama", model, strings.TrimRight(host, "/")+"/v1", "ollama"), nil

	case "anthropic", "claude":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicClient(key, model), nil

	case "gemini", "google":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		return NewGeminiClient(ctx, key, model)

	default:
		return nil, fmt.Errorf("unknown extraction provider %q (use: openai, anthropic, gemini, ollama, openrouter)", provider)
	}
}
