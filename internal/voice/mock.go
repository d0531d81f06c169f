package voice

import (
	"context"
	"time"

	"github.com/antoniostano/lumen/internal/audio"
	"github.com/antoniostano/lumen/internal/emotion"
)

const mockTranscript = "simulated voice input"

// MockProvider is a local fallback used when no speech backend is configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(ctx context.Context, clip []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(clip) == 0 {
		return "", nil
	}
	return mockTranscript, nil
}

func (p *MockProvider) Recognize(ctx context.Context, clip []byte) ([]emotion.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(clip) == 0 {
		return nil, nil
	}
	return []emotion.Score{{Label: "neutral", Score: 1}}, nil
}

// Synthesize returns a short silent WAV clip sized to the text.
func (p *MockProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := time.Duration(len([]rune(text))) * 20 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return audio.SilentWAV(d, audio.DefaultSampleRate), nil
}
