package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/antoniostano/lumen/internal/app"
	"github.com/antoniostano/lumen/internal/cipher"
	"github.com/antoniostano/lumen/internal/config"
	"github.com/antoniostano/lumen/internal/memory"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-base-url", "http://x:1/", "-turns", "3", "-inter-turn-ms", "-5"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://x:1" || cfg.turns != 3 || cfg.interTurnDelay != 0 {
		t.Fatalf("unexpected options: %+v", cfg)
	}

	if _, err := parseFlags([]string{"-turns", "0"}); err == nil {
		t.Fatalf("parseFlags(turns=0) error = nil")
	}
	if _, err := parseFlags([]string{"-clip-ms", "10"}); err == nil {
		t.Fatalf("parseFlags(clip-ms=10) error = nil")
	}
}

func TestRunAgainstMockServer(t *testing.T) {
	key, err := cipher.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	built, err := app.Build(context.Background(), config.Config{
		MetricsNamespace: "test_perfturn",
		MaxAudioBytes:    1 << 20,
		EncryptionKey:    key,
		SQLitePath:       memory.InMemoryPath,
		LLMProvider:      "mock",
		LLMMaxTokens:     150,
		VoiceProvider:    "mock",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer built.Cleanup()
	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	cfg, err := parseFlags([]string{"-base-url", ts.URL, "-turns", "2", "-inter-turn-ms", "0", "-clip-ms", "200"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), http.DefaultClient, cfg, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "turn 2/2") || !strings.Contains(got, "total_interaction_duration_s") || !strings.Contains(got, "n=2") {
		t.Fatalf("output missing turn summary or stage table:\n%s", got)
	}
}
