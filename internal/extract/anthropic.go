package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient extracts via the Anthropic messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates an extraction client for Anthropic models.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey),
		model:  model,
	}
}

// Extract makes a single messages call and parses the response.
func (c *AnthropicClient) Extract(ctx context.Context, contactName, transcript string) (*Result, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:  anthropic.Model(c.model),
		System: systemPromptV1,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(userPrompt(contactName, transcript)),
				},
			},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, classifyAnthropicError(err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return nil, fmt.Errorf("no content in anthropic response")
	}
	return parseResult(*resp.Content[0].Text), nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) && apiErr.Type == "rate_limit_error" {
		return &RateLimitError{Provider: "anthropic", Err: err}
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Provider: "anthropic", Err: err}
	}
	if hasRateLimitMarker(err) {
		return &RateLimitError{Provider: "anthropic", Err: err}
	}
	return err
}
