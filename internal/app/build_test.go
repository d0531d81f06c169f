package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/lumen/internal/cipher"
	"github.com/antoniostano/lumen/internal/config"
	"github.com/antoniostano/lumen/internal/memory"
	"github.com/antoniostano/lumen/internal/voice"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	key, err := cipher.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return config.Config{
		MetricsNamespace: "test_app",
		CORSOrigins:      []string{"http://localhost:3000"},
		MaxAudioBytes:    1 << 20,
		EncryptionKey:    key,
		SQLitePath:       memory.InMemoryPath,
		LLMProvider:      "mock",
		LLMMaxTokens:     150,
		VoiceProvider:    "mock",
	}
}

func TestBuildWiresMockStack(t *testing.T) {
	res, err := Build(context.Background(), testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if res.Info.StoreMode != "in-memory" || res.Info.Model != "mock" || res.Info.Transcriber != "mock" {
		t.Fatalf("Info = %+v", res.Info)
	}

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()
	r, err := http.Post(ts.URL+"/session", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session error = %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", r.StatusCode)
	}
}

func TestBuildSQLiteFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLitePath = t.TempDir() + "/lumen.db"
	res, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()
	if res.Info.StoreMode != "sqlite" {
		t.Fatalf("StoreMode = %q, want sqlite", res.Info.StoreMode)
	}
	if err := res.Orchestrator.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
}

func TestBuildRejectsBadKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.EncryptionKey = "short"
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("Build() error = nil, want key error")
	}
}

func TestBuildRejectsUnknownProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLMProvider = "oracle"
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("Build() error = nil, want provider error")
	}

	cfg = testConfig(t)
	cfg.VoiceProvider = "telepathy"
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("Build() error = nil, want voice provider error")
	}
}

func TestBuildAppliesStageTargets(t *testing.T) {
	cfg := testConfig(t)
	cfg.StageTargets = map[string]time.Duration{voice.ProfileLLMResponse: 1500 * time.Millisecond}
	res, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	res.Metrics.ObserveTurnProfile("ok", map[string]float64{
		voice.ProfileLLMResponse: 2,
		voice.ProfileTotal:       3,
	})
	targets := map[string]float64{}
	for _, st := range res.Metrics.LatencySnapshot().Stages {
		targets[st.Stage] = st.TargetP95S
	}
	if targets[voice.ProfileLLMResponse] != 1.5 {
		t.Fatalf("llm target = %v, want 1.5", targets[voice.ProfileLLMResponse])
	}
	if targets[voice.ProfileTotal] != voice.DefaultStageTargets()[voice.ProfileTotal].Seconds() {
		t.Fatalf("total target = %v, want default", targets[voice.ProfileTotal])
	}

	cfg = testConfig(t)
	cfg.StageTargets = map[string]time.Duration{"warp_drive_duration_s": time.Second}
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("Build() error = nil, want unknown stage target error")
	}
}
