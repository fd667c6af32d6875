// Package gemini adapts Google's Gemini API to provider.Client, built on
// genai.NewClient with genai.BackendGeminiAPI.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"omega/internal/provider"
)

type Client struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

func (c *Client) Call(ctx context.Context, req provider.Context) (provider.Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var contents []*genai.Content
	for _, h := range req.History {
		role := genai.Role(genai.RoleUser)
		if h.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(h.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.UserMessage, genai.RoleUser))

	var cfg *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		}
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: gemini generate: %v", classify(err), err)
	}

	return provider.Result{
		Text: resp.Text(),
		Metadata: provider.Metadata{
			Model:            model,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			ProviderUsed:     "gemini",
		},
	}, nil
}

func (c *Client) IsTransientError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "UNAVAILABLE")
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") || strings.Contains(err.Error(), "UNAVAILABLE") {
		return provider.ErrTransient
	}
	return fmt.Errorf("gemini")
}

func init() {
	provider.Default.Register("gemini", func(table map[string]any) (provider.Client, error) {
		apiKey, _ := table["api_key"].(string)
		model, _ := table["model"].(string)
		if model == "" {
			model = "gemini-1.5-flash"
		}
		return New(context.Background(), apiKey, model)
	})
}
