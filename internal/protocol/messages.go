// Package protocol defines the JSON bodies exchanged with the browser client.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/antoniostano/lumen/internal/emotion"
	"github.com/antoniostano/lumen/internal/prompt"
)

// ErrInvalidPayload marks a body that cannot be turned into a turn.
var ErrInvalidPayload = errors.New("invalid payload")

// FacialEmotion is the client-side face analysis summary.
type FacialEmotion struct {
	StableDominantEmotion *string            `json:"stable_dominant_emotion"`
	AverageScores         map[string]float64 `json:"average_scores"`
}

// TurnRequest is the body of POST /interact.
type TurnRequest struct {
	SessionID      int64            `json:"session_id"`
	AudioB64       string           `json:"audio_b64"`
	FacialEmotion  *FacialEmotion   `json:"facial_emotion"`
	ChatHistory    []prompt.Message `json:"chat_history"`
	LongTermMemory map[string]any   `json:"long_term_memory"`
}

// TurnResponse is the body returned by POST /interact. AIAudioB64 is null
// when synthesis failed.
type TurnResponse struct {
	TurnID              string             `json:"turn_id,omitempty"`
	AIText              string             `json:"ai_text"`
	AIAudioB64          *string            `json:"ai_audio_b64"`
	ExtractedMemory     map[string]string  `json:"extracted_memory"`
	UpdatedChatHistory  []prompt.Message   `json:"updated_chat_history"`
	VocalAnalysisResult []emotion.Score    `json:"vocal_analysis_result"`
	ProfilingData       map[string]float64 `json:"profiling_data"`
}

type SessionResponse struct {
	SessionID int64 `json:"session_id"`
}

type MemoryResponse struct {
	LongTermMemory map[string]string `json:"long_term_memory"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// ParseTurnRequest decodes and validates a turn body. Unknown fields are ignored.
func ParseTurnRequest(raw []byte) (TurnRequest, error) {
	var req TurnRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return TurnRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := req.Validate(); err != nil {
		return TurnRequest{}, err
	}
	return req, nil
}

// Validate checks the fields the pipeline depends on.
func (r TurnRequest) Validate() error {
	if r.SessionID <= 0 {
		return fmt.Errorf("%w: session_id must be a positive integer", ErrInvalidPayload)
	}
	if strings.TrimSpace(r.AudioB64) == "" {
		return fmt.Errorf("%w: audio_b64 is required", ErrInvalidPayload)
	}
	for i, m := range r.ChatHistory {
		switch m.Role {
		case prompt.RoleUser, prompt.RoleAssistant:
		default:
			return fmt.Errorf("%w: chat_history[%d].role must be user or assistant", ErrInvalidPayload, i)
		}
	}
	if r.FacialEmotion != nil {
		for label, score := range r.FacialEmotion.AverageScores {
			if strings.TrimSpace(label) == "" {
				return fmt.Errorf("%w: facial_emotion.average_scores has an empty label", ErrInvalidPayload)
			}
			if score < 0 {
				return fmt.Errorf("%w: facial_emotion.average_scores[%q] is negative", ErrInvalidPayload, label)
			}
		}
	}
	return nil
}

// Facial returns the facial summary with a trimmed dominant label.
func (r TurnRequest) Facial() emotion.Facial {
	if r.FacialEmotion == nil {
		return emotion.Facial{}
	}
	out := emotion.Facial{Scores: r.FacialEmotion.AverageScores}
	if r.FacialEmotion.StableDominantEmotion != nil {
		out.Dominant = strings.TrimSpace(*r.FacialEmotion.StableDominantEmotion)
	}
	return out
}

// Memory flattens the client's memory snapshot to text values. Null and
// empty values are dropped.
func (r TurnRequest) Memory() map[string]string {
	out := make(map[string]string, len(r.LongTermMemory))
	for k, v := range r.LongTermMemory {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		s := memoryValue(v)
		if s == "" {
			continue
		}
		out[k] = s
	}
	return out
}

func memoryValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
