package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/antoniostano/lumen/internal/brain"
	"github.com/antoniostano/lumen/internal/cipher"
	"github.com/antoniostano/lumen/internal/config"
	"github.com/antoniostano/lumen/internal/httpapi"
	"github.com/antoniostano/lumen/internal/memory"
	"github.com/antoniostano/lumen/internal/observability"
	"github.com/antoniostano/lumen/internal/voice"
)

// Info describes the collaborators a build resolved to.
type Info struct {
	StoreMode   string
	Model       string
	Transcriber string
	Recognizer  string
	Synthesizer string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *voice.Orchestrator
	Store        *memory.Store
	Metrics      *observability.Metrics
	Info         Info

	// Cleanup releases the store. Call it after the HTTP server has stopped.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	c, err := cipher.New(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	backend, storeMode, err := memory.NewBackend(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	store := memory.NewStore(backend, c, log)
	store.OnCorruptFact(metrics.ObserveCorruptFact)

	llm, err := brain.NewClient(brain.Config{
		Provider:  cfg.LLMProvider,
		APIKey:    cfg.LLMAPIKey,
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
		OllamaURL: cfg.OllamaURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("language model init failed: %w", err)
	}

	providers, err := voice.NewProviders(voice.ProvidersConfig{
		Mode:        cfg.VoiceProvider,
		STTProvider: cfg.STTProvider,
		STTModel:    cfg.STTModel,
		Deepgram: voice.DeepgramConfig{
			APIKey:   cfg.DeepgramAPIKey,
			URL:      cfg.DeepgramURL,
			Model:    cfg.DeepgramModel,
			Language: cfg.DeepgramLanguage,
		},
		OpenAIKey:         cfg.LLMAPIKey,
		OpenAIBaseURL:     cfg.LLMBaseURL,
		VocalEmotionURL:   cfg.VocalEmotionURL,
		VocalEmotionToken: cfg.VocalEmotionToken,
		TTSBaseURL:        cfg.TTSBaseURL,
		TTSAPIKey:         cfg.TTSAPIKey,
		TTSModel:          cfg.TTSModel,
		TTSVoice:          cfg.TTSVoice,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("voice provider init failed: %w", err)
	}

	targets := voice.DefaultStageTargets()
	for key, d := range cfg.StageTargets {
		if _, ok := targets[key]; !ok {
			_ = store.Close()
			return nil, fmt.Errorf("unknown stage target %q", key)
		}
		targets[key] = d
	}
	metrics.SetStageTargets(targets)

	orchestrator := voice.NewOrchestrator(voice.Deps{
		Store:     store,
		Brain:     llm,
		Providers: providers,
		Metrics:   metrics,
		Logger:    log,
		Timeouts: voice.Timeouts{
			STT:   cfg.STTTimeout,
			Vocal: cfg.VocalTimeout,
			LLM:   cfg.LLMTimeout,
			TTS:   cfg.TTSTimeout,
			Store: cfg.StoreTimeout,
		},
		MaxAudioBytes: cfg.MaxAudioBytes,
	})

	api := httpapi.New(orchestrator, metrics, log, httpapi.Options{
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: httpapi.BodyLimitForAudio(cfg.MaxAudioBytes),
		AdminToken:   cfg.AdminToken,
	})

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Store:        store,
		Metrics:      metrics,
		Info: Info{
			StoreMode:   storeMode,
			Model:       llm.Model(),
			Transcriber: providers.TranscriberName,
			Recognizer:  providers.RecognizerName,
			Synthesizer: providers.SynthesizerName,
		},
		Cleanup: store.Close,
	}, nil
}
