package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/lumen/internal/cipher"
	"github.com/antoniostano/lumen/internal/emotion"
)

// timestampLayout has fixed-width fractions so text timestamps sort correctly.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists sessions, interactions and memory facts. Text content and
// fact values are encrypted before they reach the Backend.
type Store struct {
	backend Backend
	cipher  *cipher.Cipher
	log     zerolog.Logger
	now     func() time.Time

	onCorruptFact func(key string)
}

// NewStore wraps backend with the encryption boundary.
func NewStore(backend Backend, c *cipher.Cipher, log zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		cipher:  c,
		log:     log.With().Str("component", "memory").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnCorruptFact registers a hook called for each fact skipped by AllMemory.
func (s *Store) OnCorruptFact(fn func(key string)) {
	s.onCorruptFact = fn
}

// CreateSession inserts a session and returns its store-assigned id.
func (s *Store) CreateSession(ctx context.Context, modelID string, settings map[string]any) (int64, error) {
	rec := SessionRecord{
		CreatedAt: s.now(),
		ModelID:   strings.TrimSpace(modelID),
	}
	if len(settings) > 0 {
		raw, err := json.Marshal(settings)
		if err != nil {
			return 0, fmt.Errorf("%w: settings: %v", ErrInvalidArgument, err)
		}
		rec.SettingsJSON = string(raw)
	}
	id, err := s.backend.InsertSession(ctx, rec)
	if err != nil {
		return 0, &StorageError{Op: "create_session", Err: err}
	}
	return id, nil
}

// AppendTurn persists a role-tagged turn.
func (s *Store) AppendTurn(ctx context.Context, sessionID int64, turn Turn) (int64, error) {
	return s.AppendInteraction(ctx, sessionID, turn.Role(), turn.Payload())
}

// AppendInteraction encrypts payload.Text and inserts one interaction row.
func (s *Store) AppendInteraction(ctx context.Context, sessionID int64, role Role, payload InteractionPayload) (int64, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("%w: role %q", ErrInvalidArgument, role)
	}
	if sessionID <= 0 {
		return 0, fmt.Errorf("%w: session id %d", ErrInvalidArgument, sessionID)
	}

	textCipher, err := s.cipher.Encrypt(payload.Text)
	if err != nil {
		return 0, fmt.Errorf("encrypt interaction text: %w", err)
	}

	rec := InteractionRecord{
		SessionID:      sessionID,
		CreatedAt:      s.now(),
		Role:           string(role),
		TextCipher:     textCipher,
		FacialDominant: strings.TrimSpace(payload.FacialDominant),
	}
	if len(payload.FacialScores) > 0 {
		raw, err := json.Marshal(payload.FacialScores)
		if err != nil {
			return 0, fmt.Errorf("%w: facial scores: %v", ErrInvalidArgument, err)
		}
		rec.FacialScoresJSON = string(raw)
	}
	if len(payload.Vocal) > 0 {
		raw, err := json.Marshal(payload.Vocal)
		if err != nil {
			return 0, fmt.Errorf("%w: vocal analysis: %v", ErrInvalidArgument, err)
		}
		rec.VocalAnalysisJSON = string(raw)
	}

	id, err := s.backend.InsertInteraction(ctx, rec)
	if err != nil {
		return 0, &StorageError{Op: "append_interaction", Err: err}
	}
	return id, nil
}

// UpsertMemoryFact replaces the value stored for key.
func (s *Store) UpsertMemoryFact(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if !IsFactKey(key) {
		return fmt.Errorf("%w: fact key %q", ErrInvalidArgument, key)
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: empty value for fact %q", ErrInvalidArgument, key)
	}
	valueCipher, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt fact %q: %w", key, err)
	}
	if err := s.backend.UpsertFact(ctx, FactRecord{Key: key, ValueCipher: valueCipher, UpdatedAt: s.now()}); err != nil {
		return &StorageError{Op: "upsert_memory_fact", Err: err}
	}
	return nil
}

// AllMemory returns every fact decrypted. A row that fails to decrypt is
// logged and skipped; the remaining facts are still returned.
func (s *Store) AllMemory(ctx context.Context) (map[string]string, error) {
	rows, err := s.backend.ListFacts(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list_memory", Err: err}
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		value, err := s.cipher.Decrypt(row.ValueCipher)
		if err != nil {
			s.log.Warn().Err(err).Str("fact_key", row.Key).Msg("skipping undecryptable memory fact")
			if s.onCorruptFact != nil {
				s.onCorruptFact(row.Key)
			}
			continue
		}
		out[row.Key] = value
	}
	return out, nil
}

// Interactions returns a session's interactions in write order, decrypted.
// Unlike AllMemory, a decryption failure aborts the read.
func (s *Store) Interactions(ctx context.Context, sessionID int64) ([]Interaction, error) {
	rows, err := s.backend.ListInteractions(ctx, sessionID)
	if err != nil {
		return nil, &StorageError{Op: "list_interactions", Err: err}
	}
	out := make([]Interaction, 0, len(rows))
	for _, row := range rows {
		text, err := s.cipher.Decrypt(row.TextCipher)
		if err != nil {
			return nil, fmt.Errorf("decrypt interaction %d: %w", row.ID, err)
		}
		it := Interaction{
			ID:             row.ID,
			SessionID:      row.SessionID,
			CreatedAt:      row.CreatedAt,
			Role:           Role(row.Role),
			Text:           text,
			FacialDominant: row.FacialDominant,
		}
		if row.FacialScoresJSON != "" {
			if err := json.Unmarshal([]byte(row.FacialScoresJSON), &it.FacialScores); err != nil {
				return nil, fmt.Errorf("decode facial scores of interaction %d: %w", row.ID, err)
			}
		}
		if row.VocalAnalysisJSON != "" {
			var vocal []emotion.Score
			if err := json.Unmarshal([]byte(row.VocalAnalysisJSON), &vocal); err != nil {
				return nil, fmt.Errorf("decode vocal analysis of interaction %d: %w", row.ID, err)
			}
			it.Vocal = vocal
		}
		out = append(out, it)
	}
	return out, nil
}

// Ping checks that the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the backend handle.
func (s *Store) Close() error {
	return s.backend.Close()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(v string) (time.Time, error) {
	return time.Parse(timestampLayout, v)
}
