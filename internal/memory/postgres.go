package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores rows in PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id BIGSERIAL PRIMARY KEY,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NULL,
			model_used TEXT NULL,
			settings_json TEXT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			interaction_id BIGSERIAL PRIMARY KEY,
			session_id BIGINT NOT NULL REFERENCES sessions (session_id),
			created_at TIMESTAMPTZ NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			text_content TEXT NULL,
			facial_emotion_dominant TEXT NULL,
			facial_emotion_scores_json TEXT NULL,
			vocal_analysis_json TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_session_created ON interactions (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_memory (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (b *PostgresBackend) InsertSession(ctx context.Context, rec SessionRecord) (int64, error) {
	var id int64
	err := b.pool.QueryRow(ctx,
		`INSERT INTO sessions (start_time, model_used, settings_json) VALUES ($1, $2, $3) RETURNING session_id`,
		rec.CreatedAt,
		nullIfEmpty(rec.ModelID),
		nullIfEmpty(rec.SettingsJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

func (b *PostgresBackend) InsertInteraction(ctx context.Context, rec InteractionRecord) (int64, error) {
	var id int64
	err := b.pool.QueryRow(ctx,
		`INSERT INTO interactions (
			session_id, created_at, role, text_content,
			facial_emotion_dominant, facial_emotion_scores_json, vocal_analysis_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING interaction_id`,
		rec.SessionID,
		rec.CreatedAt,
		rec.Role,
		nullIfEmpty(rec.TextCipher),
		nullIfEmpty(rec.FacialDominant),
		nullIfEmpty(rec.FacialScoresJSON),
		nullIfEmpty(rec.VocalAnalysisJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert interaction: %w", err)
	}
	return id, nil
}

func (b *PostgresBackend) UpsertFact(ctx context.Context, rec FactRecord) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO user_memory (key, value, last_updated) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, last_updated = EXCLUDED.last_updated`,
		rec.Key,
		rec.ValueCipher,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	return nil
}

func (b *PostgresBackend) ListFacts(ctx context.Context) ([]FactRecord, error) {
	rows, err := b.pool.Query(ctx, `SELECT key, value, last_updated FROM user_memory ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []FactRecord
	for rows.Next() {
		var rec FactRecord
		if err := rows.Scan(&rec.Key, &rec.ValueCipher, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return out, nil
}

func (b *PostgresBackend) ListInteractions(ctx context.Context, sessionID int64) ([]InteractionRecord, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT interaction_id, session_id, created_at, role, text_content,
		        facial_emotion_dominant, facial_emotion_scores_json, vocal_analysis_json
		   FROM interactions WHERE session_id = $1 ORDER BY created_at ASC, interaction_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []InteractionRecord
	for rows.Next() {
		var (
			rec                           InteractionRecord
			text, dominant, scores, vocal *string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.CreatedAt, &rec.Role, &text, &dominant, &scores, &vocal); err != nil {
			return nil, fmt.Errorf("scan interaction row: %w", err)
		}
		rec.TextCipher = derefString(text)
		rec.FacialDominant = derefString(dominant)
		rec.FacialScoresJSON = derefString(scores)
		rec.VocalAnalysisJSON = derefString(vocal)
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction rows: %w", err)
	}
	return out, nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
