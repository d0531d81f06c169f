package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// StageLatency aggregates one profiling key across the turns in the window.
// All durations are seconds.
type StageLatency struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastS      float64 `json:"last_s"`
	MeanS      float64 `json:"mean_s"`
	P50S       float64 `json:"p50_s"`
	P95S       float64 `json:"p95_s"`
	P99S       float64 `json:"p99_s"`
	TargetP95S float64 `json:"target_p95_s,omitempty"`
	OverTarget bool    `json:"over_target"`
}

// LatencySnapshot is the body of GET /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Capacity    int            `json:"capacity"`
	Turns       int            `json:"turns"`
	Outcomes    map[string]int `json:"outcomes"`
	Stages      []StageLatency `json:"stages"`
}

type turnSample struct {
	outcome string
	profile map[string]float64
}

// latencyWindow keeps the profiling maps of the most recent turns.
type latencyWindow struct {
	mu      sync.Mutex
	turns   []turnSample
	next    int
	filled  bool
	targets map[string]time.Duration
}

func newLatencyWindow(capacity int) *latencyWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &latencyWindow{turns: make([]turnSample, capacity)}
}

func (w *latencyWindow) setTargets(targets map[string]time.Duration) {
	copied := make(map[string]time.Duration, len(targets))
	for k, v := range targets {
		if v > 0 {
			copied[k] = v
		}
	}
	w.mu.Lock()
	w.targets = copied
	w.mu.Unlock()
}

func (w *latencyWindow) add(outcome string, profile map[string]float64) {
	copied := make(map[string]float64, len(profile))
	for k, v := range profile {
		if v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			copied[k] = v
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns[w.next] = turnSample{outcome: outcome, profile: copied}
	w.next = (w.next + 1) % len(w.turns)
	if w.next == 0 {
		w.filled = true
	}
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = make([]turnSample, len(w.turns))
	w.next = 0
	w.filled = false
}

// ordered returns the retained turns oldest first.
func (w *latencyWindow) ordered() []turnSample {
	if !w.filled {
		return append([]turnSample(nil), w.turns[:w.next]...)
	}
	out := make([]turnSample, 0, len(w.turns))
	out = append(out, w.turns[w.next:]...)
	return append(out, w.turns[:w.next]...)
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	turns := w.ordered()
	targets := w.targets
	capacity := len(w.turns)
	w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		Capacity:    capacity,
		Turns:       len(turns),
		Outcomes:    map[string]int{},
		Stages:      []StageLatency{},
	}
	values := map[string][]float64{}
	for _, t := range turns {
		if t.outcome != "" {
			snap.Outcomes[t.outcome]++
		}
		for k, v := range t.profile {
			values[k] = append(values[k], v)
		}
	}

	for stage, vals := range values {
		last := vals[len(vals)-1]
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)

		st := StageLatency{
			Stage:   stage,
			Samples: len(vals),
			LastS:   round4(last),
			MeanS:   round4(sum / float64(len(vals))),
			P50S:    round4(nearestRank(sorted, 0.50)),
			P95S:    round4(nearestRank(sorted, 0.95)),
			P99S:    round4(nearestRank(sorted, 0.99)),
		}
		if target, ok := targets[stage]; ok {
			st.TargetP95S = round4(target.Seconds())
			st.OverTarget = st.P95S > st.TargetP95S
		}
		snap.Stages = append(snap.Stages, st)
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })
	return snap
}

// nearestRank expects sorted input.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
