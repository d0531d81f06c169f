package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	olla "github.com/ollama/ollama/api"

	"github.com/antoniostano/lumen/internal/prompt"
)

// OllamaClient runs completions against a local Ollama server.
type OllamaClient struct {
	client    *olla.Client
	model     string
	maxTokens int
}

func NewOllamaClient(baseURL, model string, maxTokens int) (*OllamaClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	// Per-call deadlines come from the caller's context.
	return &OllamaClient{
		client:    olla.NewClient(u, &http.Client{}),
		model:     strings.TrimSpace(model),
		maxTokens: maxTokens,
	}, nil
}

func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Complete(ctx context.Context, msgs []prompt.Message, opts Options) (string, error) {
	stream := false
	req := &olla.ChatRequest{
		Model:    c.model,
		Messages: make([]olla.Message, 0, len(msgs)),
		Stream:   &stream,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, olla.Message{Role: m.Role, Content: m.Content})
	}
	if opts.JSON {
		req.Format = json.RawMessage(`"json"`)
	}
	if c.maxTokens > 0 {
		req.Options = map[string]any{"num_predict": c.maxTokens}
	}

	var out strings.Builder
	err := c.client.Chat(ctx, req, func(resp olla.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
