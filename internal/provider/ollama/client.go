// Package ollama adapts a local Ollama instance to provider.Client,
// wrapping a single blocking chat call rather than a streaming one since
// the provider interface is request/response, not a chunk stream.
package ollama

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"omega/internal/provider"
)

type Client struct {
	client *api.Client
	model  string
}

func New(baseURL, model string) (*Client, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	httpClient := &http.Client{Transport: transport}

	var client *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("ollama: invalid base url: %w", err)
		}
		client = api.NewClient(u, httpClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama: client from environment: %w", err)
		}
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Call(ctx context.Context, req provider.Context) (provider.Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs := make([]api.Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, h := range req.History {
		msgs = append(msgs, api.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: req.UserMessage})

	start := time.Now()
	var sb strings.Builder
	stream := false
	err := c.client.Chat(ctx, &api.ChatRequest{Model: model, Messages: msgs, Stream: &stream},
		func(resp api.ChatResponse) error {
			sb.WriteString(resp.Message.Content)
			return nil
		})
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: ollama chat: %v", classify(err), err)
	}

	return provider.Result{
		Text: sb.String(),
		Metadata: provider.Metadata{
			Model:            model,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			ProviderUsed:     "ollama",
		},
	}, nil
}

func (c *Client) IsTransientError(err error) bool {
	return provider.ErrTransient == unwrapSentinel(err) || strings.Contains(err.Error(), "connection refused")
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "timeout") {
		return provider.ErrTransient
	}
	return fmt.Errorf("ollama")
}

func unwrapSentinel(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), provider.ErrTransient.Error()) {
		return provider.ErrTransient
	}
	return err
}

func init() {
	provider.Default.Register("ollama", func(table map[string]any) (provider.Client, error) {
		baseURL, _ := table["base_url"].(string)
		model, _ := table["model"].(string)
		if model == "" {
			model = "llama3"
		}
		return New(baseURL, model)
	})
}
