package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the Lumen backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	CORSOrigins      []string
	MaxAudioBytes    int
	// AdminToken enables the read-only inspection routes when set.
	AdminToken string
	// StageTargets overrides p95 budgets by profiling key.
	StageTargets map[string]time.Duration

	LogLevel  string
	LogFormat string

	EncryptionKey string

	DatabaseURL string
	SQLitePath  string

	LLMProvider  string
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModel     string
	LLMMaxTokens int
	OllamaURL    string

	VoiceProvider     string
	STTProvider       string
	STTModel          string
	DeepgramAPIKey    string
	DeepgramURL       string
	DeepgramModel     string
	DeepgramLanguage  string
	VocalEmotionURL   string
	VocalEmotionToken string
	TTSBaseURL        string
	TTSAPIKey         string
	TTSModel          string
	TTSVoice          string

	STTTimeout   time.Duration
	VocalTimeout time.Duration
	LLMTimeout   time.Duration
	TTSTimeout   time.Duration
	StoreTimeout time.Duration
}

// Load reads environment variables (after an optional .env file) and applies defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "lumen"),
		CORSOrigins:       splitList(envOrDefault("APP_CORS_ORIGINS", "http://localhost:3000")),
		MaxAudioBytes:     25 << 20,
		AdminToken:        stringsTrimSpace("APP_ADMIN_TOKEN"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("LOG_FORMAT", "console"),
		EncryptionKey:     stringsTrimSpace("ENCRYPTION_KEY"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		SQLitePath:        envOrDefault("SQLITE_PATH", "data/lumenai.db"),
		LLMProvider:       envOrDefault("LLM_PROVIDER", "auto"),
		LLMAPIKey:         firstNonEmpty(stringsTrimSpace("LLM_API_KEY"), stringsTrimSpace("GROQ_API_KEY")),
		LLMBaseURL:        envOrDefault("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMModel:          envOrDefault("LLM_MODEL", "llama-3.1-8b-instant"),
		LLMMaxTokens:      150,
		OllamaURL:         envOrDefault("OLLAMA_URL", "http://localhost:11434"),
		VoiceProvider:     envOrDefault("VOICE_PROVIDER", "auto"),
		STTProvider:       envOrDefault("STT_PROVIDER", "deepgram"),
		STTModel:          envOrDefault("STT_MODEL", "whisper-large-v3"),
		DeepgramAPIKey:    stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramURL:       envOrDefault("DEEPGRAM_URL", "https://api.deepgram.com/v1/listen"),
		DeepgramModel:     envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		DeepgramLanguage:  envOrDefault("DEEPGRAM_LANGUAGE", "es"),
		VocalEmotionURL:   stringsTrimSpace("VOCAL_EMOTION_URL"),
		VocalEmotionToken: stringsTrimSpace("VOCAL_EMOTION_TOKEN"),
		TTSBaseURL:        stringsTrimSpace("TTS_BASE_URL"),
		TTSAPIKey:         stringsTrimSpace("TTS_API_KEY"),
		TTSModel:          envOrDefault("TTS_MODEL", "tts-1"),
		// Voice id for OpenAI-compatible edge-tts gateways.
		TTSVoice:        envOrDefault("TTS_VOICE", "es-CO-SalomeNeural"),
		ShutdownTimeout: 15 * time.Second,
		STTTimeout:      30 * time.Second,
		VocalTimeout:    15 * time.Second,
		LLMTimeout:      30 * time.Second,
		TTSTimeout:      30 * time.Second,
		StoreTimeout:    5 * time.Second,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"STT_TIMEOUT", &cfg.STTTimeout},
		{"VOCAL_TIMEOUT", &cfg.VocalTimeout},
		{"LLM_TIMEOUT", &cfg.LLMTimeout},
		{"TTS_TIMEOUT", &cfg.TTSTimeout},
		{"STORE_TIMEOUT", &cfg.StoreTimeout},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
		if *d.dst <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", d.key)
		}
	}

	cfg.StageTargets, err = stageTargetsFromEnv("APP_STAGE_TARGETS")
	if err != nil {
		return Config{}, err
	}

	cfg.MaxAudioBytes, err = intFromEnv("APP_MAX_AUDIO_BYTES", cfg.MaxAudioBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}

	if cfg.EncryptionKey == "" {
		return Config{}, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.MaxAudioBytes <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_AUDIO_BYTES must be positive")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" && strings.TrimSpace(cfg.SQLitePath) == "" {
		return Config{}, fmt.Errorf("either DATABASE_URL or SQLITE_PATH must be set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

// stageTargetsFromEnv parses "key=duration" pairs separated by commas.
func stageTargetsFromEnv(key string) (map[string]time.Duration, error) {
	out := map[string]time.Duration{}
	for _, pair := range splitList(stringsTrimSpace(key)) {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%s: entry %q must be key=duration", key, pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %s parse error: %w", key, name, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s: %s must be positive", key, name)
		}
		out[name] = d
	}
	return out, nil
}
