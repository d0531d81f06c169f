package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func stageByName(t *testing.T, snap LatencySnapshot, name string) StageLatency {
	t.Helper()
	for _, st := range snap.Stages {
		if st.Stage == name {
			return st
		}
	}
	t.Fatalf("stage %q missing from %+v", name, snap.Stages)
	return StageLatency{}
}

func TestLatencyWindowAggregatesProfiles(t *testing.T) {
	w := newLatencyWindow(8)
	w.setTargets(map[string]time.Duration{
		"llm_response_duration_s":  800 * time.Millisecond,
		"tts_synthesis_duration_s": 0,
	})
	w.add("ok", map[string]float64{"llm_response_duration_s": 0.5, "tts_synthesis_duration_s": 0.2})
	w.add("degraded", map[string]float64{"llm_response_duration_s": 0.9})
	w.add("ok", map[string]float64{"llm_response_duration_s": 0.7, "tts_synthesis_duration_s": 0.4})

	snap := w.snapshot()
	if snap.Turns != 3 || snap.Capacity != 8 {
		t.Fatalf("turns = %d capacity = %d", snap.Turns, snap.Capacity)
	}
	if snap.Outcomes["ok"] != 2 || snap.Outcomes["degraded"] != 1 {
		t.Fatalf("outcomes = %v", snap.Outcomes)
	}

	llm := stageByName(t, snap, "llm_response_duration_s")
	if llm.Samples != 3 || llm.LastS != 0.7 || llm.MeanS != 0.7 {
		t.Fatalf("llm = %+v", llm)
	}
	if llm.P50S != 0.7 || llm.P95S != 0.9 || llm.P99S != 0.9 {
		t.Fatalf("llm percentiles = %+v", llm)
	}
	if llm.TargetP95S != 0.8 || !llm.OverTarget {
		t.Fatalf("llm target = %v over = %t", llm.TargetP95S, llm.OverTarget)
	}

	tts := stageByName(t, snap, "tts_synthesis_duration_s")
	if tts.Samples != 2 || tts.TargetP95S != 0 || tts.OverTarget {
		t.Fatalf("tts = %+v", tts)
	}
	if snap.Stages[0].Stage != "llm_response_duration_s" {
		t.Fatalf("stages not sorted: %+v", snap.Stages)
	}
}

func TestLatencyWindowEvictsOldestTurns(t *testing.T) {
	w := newLatencyWindow(2)
	w.add("ok", map[string]float64{"total_interaction_duration_s": 9})
	w.add("ok", map[string]float64{"total_interaction_duration_s": 1})
	w.add("ok", map[string]float64{"total_interaction_duration_s": 2})

	total := stageByName(t, w.snapshot(), "total_interaction_duration_s")
	if total.Samples != 2 || total.P99S != 2 || total.LastS != 2 {
		t.Fatalf("total = %+v, want the two newest turns", total)
	}
}

func TestLatencyWindowSkipsInvalidValuesAndResets(t *testing.T) {
	w := newLatencyWindow(4)
	profile := map[string]float64{"decode_duration_s": -1, "transcription_duration_s": 0.12346}
	w.add("ok", profile)
	profile["transcription_duration_s"] = 99

	snap := w.snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %+v, want only transcription", snap.Stages)
	}
	if got := snap.Stages[0].LastS; got != 0.1235 {
		t.Fatalf("last = %v, want rounded 0.1235 from the copied profile", got)
	}

	w.reset()
	snap = w.snapshot()
	if snap.Turns != 0 || len(snap.Stages) != 0 {
		t.Fatalf("after reset = %+v", snap)
	}
}

func TestMetricsObserveAndServe(t *testing.T) {
	m := NewMetrics("test_obs")
	m.ObserveTurnStage("llm_response", 250*time.Millisecond)
	m.ObserveTurnOutcome("ok")
	m.ObserveTurnProfile("ok", map[string]float64{"total_interaction_duration_s": 1.5})
	m.ObserveProviderError("deepgram", "timeout")
	m.ObserveStorageError("append_interaction")
	m.ObserveMemoryUpsert()
	m.ObserveCorruptFact("nombre")
	m.ObserveSessionCreated()
	m.ObserveHTTPRequest("", 404)

	if got := m.LatencySnapshot().Turns; got != 1 {
		t.Fatalf("snapshot turns = %d, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`test_obs_turn_stage_seconds_count{stage="llm_response"} 1`,
		`test_obs_turns_total{outcome="ok"} 1`,
		`test_obs_provider_errors_total{code="timeout",provider="deepgram"} 1`,
		`test_obs_memory_corrupt_facts_total 1`,
		`test_obs_http_requests_total{route="unmatched",status="4xx"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	m.ResetLatency()
	if got := m.LatencySnapshot().Turns; got != 0 {
		t.Fatalf("turns after reset = %d", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTurnStage("x", time.Second)
	m.ObserveTurnOutcome("ok")
	m.ObserveTurnProfile("ok", map[string]float64{"x": 1})
	m.SetStageTargets(map[string]time.Duration{"x": time.Second})
	m.ObserveProviderError("p", "c")
	m.ObserveStorageError("op")
	m.ObserveMemoryUpsert()
	m.ObserveCorruptFact("k")
	m.ObserveSessionCreated()
	m.ObserveHTTPRequest("/", 200)
	m.ResetLatency()
	if snap := m.LatencySnapshot(); snap.Turns != 0 || snap.Stages == nil {
		t.Fatalf("nil snapshot = %+v", snap)
	}
}
