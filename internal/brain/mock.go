package brain

import (
	"context"
	"strings"

	"github.com/antoniostano/lumen/internal/prompt"
)

// MockClient provides deterministic local replies when no model is configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Model() string { return "mock" }

func (c *MockClient) Complete(ctx context.Context, msgs []prompt.Message, opts Options) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if opts.JSON {
		return "{}", nil
	}

	last := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == prompt.RoleUser {
			last = strings.TrimSpace(msgs[i].Content)
			break
		}
	}
	if last == "" {
		return "Te escucho. ¿Qué te gustaría contarme?", nil
	}
	return "Te escucho: " + last + ". ¿Cómo te hace sentir eso?", nil
}
