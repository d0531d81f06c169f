package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/antoniostano/lumen/internal/audio"
	"github.com/antoniostano/lumen/internal/reliability"
)

type DeepgramConfig struct {
	APIKey   string
	URL      string
	Model    string
	Language string
}

// DeepgramTranscriber posts a whole clip to Deepgram's prerecorded API.
type DeepgramTranscriber struct {
	cfg    DeepgramConfig
	client *http.Client
}

func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "https://api.deepgram.com/v1/listen"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "nova-2"
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "es"
	}
	return &DeepgramTranscriber{cfg: cfg, client: &http.Client{}}
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (t *DeepgramTranscriber) Transcribe(ctx context.Context, clip []byte) (string, error) {
	u, err := url.Parse(strings.TrimSpace(t.cfg.URL))
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", t.cfg.Model)
	q.Set("language", t.cfg.Language)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(clip))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.cfg.APIKey)
	req.Header.Set("Content-Type", audio.DetectContentType(clip))

	res, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &reliability.HTTPStatusError{Provider: "deepgram", Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out deepgramResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode deepgram response: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript), nil
}
