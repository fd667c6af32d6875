// Package openai adapts the OpenAI API (and OpenAI-compatible endpoints)
// to provider.Client, built on openai-go/v3's option.WithAPIKey/
// WithBaseURL construction.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"omega/internal/provider"
)

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) (*Client, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	return &Client{client: &c, model: model}, nil
}

func (c *Client) Call(ctx context.Context, req provider.Context) (provider.Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, h := range req.History {
		if h.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(h.Content))
		} else {
			messages = append(messages, openai.UserMessage(h.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.UserMessage))

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: openai chat: %v", classify(err), err)
	}
	if len(resp.Choices) == 0 {
		return provider.Result{}, fmt.Errorf("openai: empty response")
	}

	return provider.Result{
		Text: resp.Choices[0].Message.Content,
		Metadata: provider.Metadata{
			Model:            model,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			ProviderUsed:     "openai",
		},
	}, nil
}

func (c *Client) IsTransientError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "503") || strings.Contains(msg, "timeout")
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "rate_limit") || strings.Contains(err.Error(), "503") {
		return provider.ErrTransient
	}
	return fmt.Errorf("openai")
}

func init() {
	provider.Default.Register("openai", func(table map[string]any) (provider.Client, error) {
		apiKey, _ := table["api_key"].(string)
		baseURL, _ := table["base_url"].(string)
		model, _ := table["model"].(string)
		if model == "" {
			model = "gpt-4o-mini"
		}
		return New(apiKey, baseURL, model)
	})
}
