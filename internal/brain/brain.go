// Package brain wraps the chat-completion backends used to generate replies
// and extract memory facts.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/lumen/internal/prompt"
)

// ErrEmptyResponse is returned when a backend answers with no usable text.
var ErrEmptyResponse = errors.New("language model returned an empty response")

// Options tune one completion call.
type Options struct {
	// JSON asks the backend to constrain output to a JSON object.
	JSON bool
}

// Client completes a chat.
type Client interface {
	Complete(ctx context.Context, msgs []prompt.Message, opts Options) (string, error)
	Model() string
}

// Config controls client construction.
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	OllamaURL string
}

// NewClient picks a backend from cfg.Provider: auto, openai, groq, ollama or mock.
// auto uses the OpenAI-compatible API when a key is configured and falls back
// to the mock otherwise.
func NewClient(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens), nil
		}
		return NewMockClient(), nil
	case "openai", "groq":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("LLM API key is required for the openai provider")
		}
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens), nil
	case "ollama":
		return NewOllamaClient(cfg.OllamaURL, cfg.Model, cfg.MaxTokens)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

// CleanReply trims whitespace and wrapping quotes some models add around a reply.
func CleanReply(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}
