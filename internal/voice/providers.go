package voice

import (
	"errors"
	"fmt"
	"strings"
)

// ProvidersConfig controls collaborator construction.
type ProvidersConfig struct {
	// Mode is auto, remote or mock. auto falls back to the mock for any
	// collaborator that is not configured; remote requires every one of them
	// except the recognizer, which is left nil when unset.
	Mode string

	STTProvider string
	STTModel    string
	Deepgram    DeepgramConfig

	// OpenAI-compatible endpoint shared with the language model.
	OpenAIKey     string
	OpenAIBaseURL string

	VocalEmotionURL   string
	VocalEmotionToken string

	TTSBaseURL string
	TTSAPIKey  string
	TTSModel   string
	TTSVoice   string
}

func NewProviders(cfg ProvidersConfig) (Providers, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	mock := NewMockProvider()
	switch mode {
	case "mock":
		return Providers{
			Transcriber: mock, TranscriberName: "mock",
			Recognizer: mock, RecognizerName: "mock",
			Synthesizer: mock, SynthesizerName: "mock",
		}, nil
	case "auto", "remote":
	default:
		return Providers{}, fmt.Errorf("unsupported voice provider %q", cfg.Mode)
	}
	strict := mode == "remote"

	var p Providers

	stt, sttName, err := newTranscriber(cfg)
	switch {
	case err == nil:
		p.Transcriber, p.TranscriberName = stt, sttName
	case strict:
		return Providers{}, err
	default:
		p.Transcriber, p.TranscriberName = mock, "mock"
	}

	switch {
	case strings.TrimSpace(cfg.VocalEmotionURL) != "":
		p.Recognizer = NewHTTPEmotionRecognizer(cfg.VocalEmotionURL, cfg.VocalEmotionToken)
		p.RecognizerName = "vocal_emotion_http"
	case !strict:
		p.Recognizer, p.RecognizerName = mock, "mock"
	}

	switch {
	case strings.TrimSpace(cfg.TTSAPIKey) != "" || strings.TrimSpace(cfg.TTSBaseURL) != "":
		p.Synthesizer = NewSpeechSynthesizer(cfg.TTSAPIKey, cfg.TTSBaseURL, cfg.TTSModel, cfg.TTSVoice)
		p.SynthesizerName = "openai_speech"
	case strict:
		return Providers{}, errors.New("TTS_API_KEY or TTS_BASE_URL is required for remote voice provider")
	default:
		p.Synthesizer, p.SynthesizerName = mock, "mock"
	}

	return p, nil
}

func newTranscriber(cfg ProvidersConfig) (Transcriber, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.STTProvider)) {
	case "", "deepgram":
		if strings.TrimSpace(cfg.Deepgram.APIKey) == "" {
			return nil, "", errors.New("DEEPGRAM_API_KEY is required for deepgram transcription")
		}
		return NewDeepgramTranscriber(cfg.Deepgram), "deepgram", nil
	case "openai", "whisper":
		if strings.TrimSpace(cfg.OpenAIKey) == "" {
			return nil, "", errors.New("LLM_API_KEY is required for openai transcription")
		}
		return NewWhisperTranscriber(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.STTModel, cfg.Deepgram.Language), "whisper", nil
	default:
		return nil, "", fmt.Errorf("unsupported STT provider %q", cfg.STTProvider)
	}
}
