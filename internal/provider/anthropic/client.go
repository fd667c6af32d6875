// Package anthropic adapts the Anthropic Messages API to provider.Client,
// using the same thin-wrapper shape as the other provider adapters in
// this tree, built on anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"omega/internal/provider"
)

type Client struct {
	client anthropic.Client
	model  string
}

func New(apiKey, model string) *Client {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{client: c, model: model}
}

func (c *Client) Call(ctx context.Context, req provider.Context) (provider.Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var msgs []anthropic.MessageParam
	for _, h := range req.History {
		if h.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(h.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(h.Content)))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserMessage)))

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages:  msgs,
	})
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: anthropic messages: %v", classify(err), err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return provider.Result{
		Text: text.String(),
		Metadata: provider.Metadata{
			Model:            model,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			ProviderUsed:     "anthropic",
		},
	}, nil
}

func (c *Client) IsTransientError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "529") || strings.Contains(msg, "rate_limit")
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "overloaded") || strings.Contains(err.Error(), "529") {
		return provider.ErrTransient
	}
	return fmt.Errorf("anthropic")
}

func init() {
	provider.Default.Register("anthropic", func(table map[string]any) (provider.Client, error) {
		apiKey, _ := table["api_key"].(string)
		model, _ := table["model"].(string)
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		return New(apiKey, model), nil
	})
}
