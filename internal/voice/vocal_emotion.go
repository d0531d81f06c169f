package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/antoniostano/lumen/internal/audio"
	"github.com/antoniostano/lumen/internal/emotion"
	"github.com/antoniostano/lumen/internal/reliability"
)

// HTTPEmotionRecognizer calls an audio-classification endpoint that takes the
// raw clip as the body and answers with [{"label","score"}], the shape used by
// Hugging Face inference for speech-emotion models.
type HTTPEmotionRecognizer struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPEmotionRecognizer(url, token string) *HTTPEmotionRecognizer {
	return &HTTPEmotionRecognizer{
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		client: &http.Client{},
	}
}

func (r *HTTPEmotionRecognizer) Recognize(ctx context.Context, clip []byte) ([]emotion.Score, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(clip))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", audio.DetectContentType(clip))
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		if len(body) > 4<<10 {
			body = body[:4<<10]
		}
		return nil, &reliability.HTTPStatusError{Provider: "vocal_emotion", Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	scores, err := decodeScores(body)
	if err != nil {
		return nil, err
	}
	return emotion.SortByScore(scores), nil
}

// decodeScores accepts a flat list or a list nested one level deep.
func decodeScores(body []byte) ([]emotion.Score, error) {
	var flat []emotion.Score
	if err := json.Unmarshal(body, &flat); err == nil {
		return cleanScores(flat), nil
	}
	var nested [][]emotion.Score
	if err := json.Unmarshal(body, &nested); err == nil {
		if len(nested) == 0 {
			return nil, nil
		}
		return cleanScores(nested[0]), nil
	}
	return nil, fmt.Errorf("decode vocal emotion response: unexpected shape")
}

func cleanScores(in []emotion.Score) []emotion.Score {
	out := make([]emotion.Score, 0, len(in))
	for _, s := range in {
		s.Label = strings.TrimSpace(s.Label)
		if s.Label == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
