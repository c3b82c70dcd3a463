package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient extracts via the OpenAI chat completions API. A base URL
// override also points it at any OpenAI-compatible endpoint (Ollama,
// OpenRouter).
type OpenAIClient struct {
	client   *openai.Client
	model    string
	provider string
}

// NewOpenAIClient creates an extraction client for OpenAI or a compatible
// endpoint. provider is only used to attribute rate-limit errors.
func NewOpenAIClient(apiKey, model, baseURL, provider string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if provider == "" {
		provider = "openai"
	}
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(config),
		model:    model,
		provider: provider,
	}
}

// Extract makes a single chat completion call and parses the response.
func (c *OpenAIClient) Extract(ctx context.Context, contactName, transcript string) (*Result, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPromptV1},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(contactName, transcript)},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, c.classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in %s response", c.provider)
	}
	return parseResult(resp.Choices[0].Message.Content), nil
}

// classifyError wraps throttling responses in RateLimitError. The SDK's
// typed errors are checked first; the message fallback covers compatible
// endpoints that return non-standard bodies.
func (c *OpenAIClient) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Provider: c.provider, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Provider: c.provider, Err: err}
	}
	if hasRateLimitMarker(err) {
		return &RateLimitError{Provider: c.provider, Err: err}
	}
	return err
}
