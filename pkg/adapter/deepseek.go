package adapter

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekAdapter implements the Adapter interface for DeepSeek models.
// DeepSeek speaks the OpenAI chat completions protocol.
type DeepSeekAdapter struct {
	client *goopenai.Client
}

// NewDeepSeekAdapter creates a new DeepSeek adapter.
func NewDeepSeekAdapter(apiKey string) (*DeepSeekAdapter, error) {
	return NewDeepSeekAdapterWithBaseURL(apiKey, deepseekBaseURL)
}

// NewDeepSeekAdapterWithBaseURL creates a DeepSeek adapter against an
// alternate OpenAI-compatible endpoint.
func NewDeepSeekAdapterWithBaseURL(apiKey, baseURL string) (*DeepSeekAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &DeepSeekAdapter{client: goopenai.NewClientWithConfig(cfg)}, nil
}

// Name returns the adapter identifier.
func (a *DeepSeekAdapter) Name() string {
	return "deepseek"
}

// Models returns the list of supported DeepSeek models.
func (a *DeepSeekAdapter) Models() []string {
	return []string{
		"deepseek-chat",
		"deepseek-reasoner",
	}
}

// Generate sends a prompt to DeepSeek.
func (a *DeepSeekAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	var messages []goopenai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := a.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.maxTokens(),
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return nil, &AdapterError{Status: apiErr.HTTPStatusCode, Err: fmt.Errorf("deepseek API error: %w", err)}
		}
		var reqErr *goopenai.RequestError
		if errors.As(err, &reqErr) {
			return nil, &AdapterError{Status: reqErr.HTTPStatusCode, Err: fmt.Errorf("deepseek request failed: %w", err)}
		}
		return nil, fmt.Errorf("deepseek API request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("deepseek returned no choices")
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Adapter: a.Name(),
		Model:   req.Model,
		Usage:   newUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}
