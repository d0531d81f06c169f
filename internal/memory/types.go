package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antoniostano/lumen/internal/emotion"
)

// Role is the author of an interaction.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Fact keys the assistant is allowed to remember.
const (
	FactName       = "nombre"
	FactAge        = "edad"
	FactTopic      = "tema_recurrente"
	FactPreference = "preferencia_personal"
	FactGoal       = "meta_u_objetivo"
)

// FactKeys lists the controlled vocabulary in prompt order.
var FactKeys = []string{FactName, FactAge, FactTopic, FactPreference, FactGoal}

// IsFactKey reports whether key belongs to FactKeys.
func IsFactKey(key string) bool {
	for _, k := range FactKeys {
		if k == key {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidArgument marks caller mistakes such as an unknown role.
	// Nothing is written when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")
)

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err came from the database layer.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// InteractionPayload is the content of one interaction row in plaintext form.
type InteractionPayload struct {
	Text           string
	FacialDominant string
	FacialScores   map[string]float64
	Vocal          []emotion.Score
}

// Turn is a role-tagged payload ready to be persisted.
type Turn interface {
	Role() Role
	Payload() InteractionPayload
}

// UserTurn is what the user said plus the emotion context observed with it.
type UserTurn struct {
	Text   string
	Facial emotion.Facial
	Vocal  []emotion.Score
}

func (UserTurn) Role() Role { return RoleUser }

func (u UserTurn) Payload() InteractionPayload {
	return InteractionPayload{
		Text:           u.Text,
		FacialDominant: u.Facial.Dominant,
		FacialScores:   u.Facial.Scores,
		Vocal:          u.Vocal,
	}
}

// AssistantTurn carries only the reply text.
type AssistantTurn struct {
	Text string
}

func (AssistantTurn) Role() Role { return RoleAssistant }

func (a AssistantTurn) Payload() InteractionPayload {
	return InteractionPayload{Text: a.Text}
}

// Interaction is a decrypted interaction read back from the store.
type Interaction struct {
	ID             int64              `json:"interaction_id"`
	SessionID      int64              `json:"session_id"`
	CreatedAt      time.Time          `json:"timestamp"`
	Role           Role               `json:"role"`
	Text           string             `json:"text"`
	FacialDominant string             `json:"facial_dominant,omitempty"`
	FacialScores   map[string]float64 `json:"facial_scores,omitempty"`
	Vocal          []emotion.Score    `json:"vocal_analysis,omitempty"`
}

// SessionRecord is a sessions row.
type SessionRecord struct {
	CreatedAt    time.Time
	ModelID      string
	SettingsJSON string
}

// InteractionRecord is an interactions row; TextCipher is never plaintext.
type InteractionRecord struct {
	ID                int64
	SessionID         int64
	CreatedAt         time.Time
	Role              string
	TextCipher        string
	FacialDominant    string
	FacialScoresJSON  string
	VocalAnalysisJSON string
}

// FactRecord is a user_memory row; ValueCipher is never plaintext.
type FactRecord struct {
	Key         string
	ValueCipher string
	UpdatedAt   time.Time
}

// Backend is the row-level database contract. Implementations acquire a
// connection per call and release it on every return path.
type Backend interface {
	InsertSession(ctx context.Context, rec SessionRecord) (int64, error)
	InsertInteraction(ctx context.Context, rec InteractionRecord) (int64, error)
	UpsertFact(ctx context.Context, rec FactRecord) error
	ListFacts(ctx context.Context) ([]FactRecord, error)
	ListInteractions(ctx context.Context, sessionID int64) ([]InteractionRecord, error)
	Ping(ctx context.Context) error
	Close() error
}
