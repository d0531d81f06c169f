// Package emotion holds the emotion data exchanged between the voice
// analysis collaborators, the prompt composer, and persistence.
package emotion

import (
	"sort"
	"strings"
)

// Score is one label from a classifier, e.g. {"sad", 0.81}.
type Score struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Facial is the client-side facial analysis summary for a turn.
type Facial struct {
	Dominant string             `json:"stable_dominant_emotion,omitempty"`
	Scores   map[string]float64 `json:"average_scores,omitempty"`
}

// Top returns the first entry of an ordered vocal result.
// ok is false when the result is empty or its first label is blank.
func Top(scores []Score) (Score, bool) {
	if len(scores) == 0 {
		return Score{}, false
	}
	if strings.TrimSpace(scores[0].Label) == "" {
		return Score{}, false
	}
	return scores[0], true
}

// SortByScore orders scores highest first, keeping input order on ties.
func SortByScore(scores []Score) []Score {
	out := make([]Score, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
