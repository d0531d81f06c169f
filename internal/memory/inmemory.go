package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryBackend keeps rows in process memory for local/dev use and tests.
// It enforces the same constraints as the SQL schemas.
type InMemoryBackend struct {
	mu            sync.RWMutex
	sessions      map[int64]SessionRecord
	interactions  []InteractionRecord
	facts         map[string]FactRecord
	nextSessionID int64
	nextRowID     int64
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		sessions: make(map[int64]SessionRecord),
		facts:    make(map[string]FactRecord),
	}
}

func (b *InMemoryBackend) InsertSession(_ context.Context, rec SessionRecord) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSessionID++
	b.sessions[b.nextSessionID] = rec
	return b.nextSessionID, nil
}

func (b *InMemoryBackend) InsertInteraction(_ context.Context, rec InteractionRecord) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[rec.SessionID]; !ok {
		return 0, fmt.Errorf("insert interaction: session %d does not exist", rec.SessionID)
	}
	if !Role(rec.Role).Valid() {
		return 0, fmt.Errorf("insert interaction: role %q violates check constraint", rec.Role)
	}
	b.nextRowID++
	rec.ID = b.nextRowID
	b.interactions = append(b.interactions, rec)
	return rec.ID, nil
}

func (b *InMemoryBackend) UpsertFact(_ context.Context, rec FactRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.facts[rec.Key] = rec
	return nil
}

func (b *InMemoryBackend) ListFacts(_ context.Context) ([]FactRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]FactRecord, 0, len(b.facts))
	for _, rec := range b.facts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *InMemoryBackend) ListInteractions(_ context.Context, sessionID int64) ([]InteractionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []InteractionRecord
	for _, rec := range b.interactions {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (b *InMemoryBackend) Ping(context.Context) error { return nil }

func (b *InMemoryBackend) Close() error { return nil }
