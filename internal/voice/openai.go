package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/antoniostano/lumen/internal/audio"
)

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
		cfg.BaseURL = u
	}
	return openai.NewClientWithConfig(cfg)
}

// WhisperTranscriber uses an OpenAI-compatible transcription endpoint
// (Groq hosts whisper-large-v3).
type WhisperTranscriber struct {
	client   *openai.Client
	model    string
	language string
}

func NewWhisperTranscriber(apiKey, baseURL, model, language string) *WhisperTranscriber {
	if strings.TrimSpace(model) == "" {
		model = "whisper-large-v3"
	}
	return &WhisperTranscriber{
		client:   newOpenAIClient(apiKey, baseURL),
		model:    strings.TrimSpace(model),
		language: strings.TrimSpace(language),
	}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, clip []byte) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model: t.model,
		// The multipart upload needs a file name; the extension selects the decoder.
		FilePath: "turn" + audio.Extension(audio.DetectContentType(clip)),
		Reader:   bytes.NewReader(clip),
		Language: t.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// SpeechSynthesizer uses an OpenAI-compatible /audio/speech endpoint.
type SpeechSynthesizer struct {
	client *openai.Client
	model  string
	voice  string
}

func NewSpeechSynthesizer(apiKey, baseURL, model, voice string) *SpeechSynthesizer {
	if strings.TrimSpace(model) == "" {
		model = "tts-1"
	}
	return &SpeechSynthesizer{
		client: newOpenAIClient(apiKey, baseURL),
		model:  strings.TrimSpace(model),
		voice:  strings.TrimSpace(voice),
	}
}

func (s *SpeechSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("speech: empty text")
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	defer resp.Close()

	out, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("speech: empty audio")
	}
	return out, nil
}
