// Command perfturn replays synthetic turns against a running server and
// prints per-stage latency.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/antoniostano/lumen/internal/audio"
	"github.com/antoniostano/lumen/internal/observability"
	"github.com/antoniostano/lumen/internal/prompt"
	"github.com/antoniostano/lumen/internal/protocol"
)

type options struct {
	baseURL        string
	turns          int
	clipPath       string
	clipDuration   time.Duration
	facial         string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfturn: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()
	if err := run(ctx, &http.Client{Timeout: cfg.turnTimeout}, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "perfturn: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var clipMS, interTurnMS, turnTimeoutMS int

	fs := flag.NewFlagSet("perfturn", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "Lumen base URL")
	fs.IntVar(&cfg.turns, "turns", 5, "number of turns to replay")
	fs.StringVar(&cfg.clipPath, "clip", "", "audio file sent on every turn (default: generated silence)")
	fs.IntVar(&clipMS, "clip-ms", 1500, "length of the generated clip in milliseconds")
	fs.StringVar(&cfg.facial, "facial", "neutral", "stable_dominant_emotion sent with each turn")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 60000, "HTTP timeout per turn in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print per-turn results")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.clipPath == "" && clipMS < 100 {
		return options{}, fmt.Errorf("clip-ms must be >= 100")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.clipDuration = time.Duration(clipMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func loadClip(cfg options) ([]byte, error) {
	if cfg.clipPath != "" {
		return os.ReadFile(cfg.clipPath)
	}
	return audio.SilentWAV(cfg.clipDuration, audio.DefaultSampleRate), nil
}

func run(ctx context.Context, client *http.Client, cfg options, out io.Writer) error {
	clip, err := loadClip(cfg)
	if err != nil {
		return fmt.Errorf("load clip: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(clip)

	var session protocol.SessionResponse
	if err := doJSON(ctx, client, http.MethodPost, cfg.baseURL+"/session", nil, http.StatusCreated, &session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if cfg.verbose {
		fmt.Fprintf(out, "perfturn: session=%d turns=%d clip_bytes=%d\n", session.SessionID, cfg.turns, len(clip))
	}

	facial := cfg.facial
	history := []prompt.Message{}
	memory := map[string]any{}
	for i := 0; i < cfg.turns; i++ {
		req := protocol.TurnRequest{
			SessionID:      session.SessionID,
			AudioB64:       encoded,
			FacialEmotion:  &protocol.FacialEmotion{StableDominantEmotion: &facial},
			ChatHistory:    history,
			LongTermMemory: memory,
		}
		var res protocol.TurnResponse
		if err := doJSON(ctx, client, http.MethodPost, cfg.baseURL+"/interact", req, http.StatusOK, &res); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		history = res.UpdatedChatHistory
		for k, v := range res.ExtractedMemory {
			memory[k] = v
		}
		if cfg.verbose {
			fmt.Fprintf(out, "perfturn: turn %d/%d audio=%t %s\n", i+1, cfg.turns, res.AIAudioB64 != nil, formatProfile(res.ProfilingData))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.interTurnDelay):
			}
		}
	}

	var snap observability.LatencySnapshot
	if err := doJSON(ctx, client, http.MethodGet, cfg.baseURL+"/v1/perf/latency", nil, http.StatusOK, &snap); err != nil {
		return fmt.Errorf("fetch latency snapshot: %w", err)
	}
	for _, st := range snap.Stages {
		flag := ""
		if st.OverTarget {
			flag = " OVER"
		}
		fmt.Fprintf(out, "%-30s n=%-4d p50=%7.3fs p95=%7.3fs target=%6.2fs%s\n", st.Stage, st.Samples, st.P50S, st.P95S, st.TargetP95S, flag)
	}
	return nil
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var apiErr protocol.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("status=%d code=%s detail=%s", resp.StatusCode, apiErr.Code, apiErr.Detail)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func formatProfile(p map[string]float64) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.3f", strings.TrimSuffix(k, "_duration_s"), p[k]))
	}
	return strings.Join(parts, " ")
}
