package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores rows in a local SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := initSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id INTEGER PRIMARY KEY AUTOINCREMENT,
			start_time TEXT NOT NULL,
			end_time TEXT,
			model_used TEXT,
			settings_json TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			interaction_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions (session_id),
			created_at TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			text_content TEXT,
			facial_emotion_dominant TEXT,
			facial_emotion_scores_json TEXT,
			vocal_analysis_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_session_created ON interactions (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_memory (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			last_updated TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (b *SQLiteBackend) InsertSession(ctx context.Context, rec SessionRecord) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO sessions (start_time, model_used, settings_json) VALUES (?, ?, ?)`,
		formatTimestamp(rec.CreatedAt),
		nullString(rec.ModelID),
		nullString(rec.SettingsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session id: %w", err)
	}
	return id, nil
}

func (b *SQLiteBackend) InsertInteraction(ctx context.Context, rec InteractionRecord) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO interactions (
			session_id, created_at, role, text_content,
			facial_emotion_dominant, facial_emotion_scores_json, vocal_analysis_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		formatTimestamp(rec.CreatedAt),
		rec.Role,
		nullString(rec.TextCipher),
		nullString(rec.FacialDominant),
		nullString(rec.FacialScoresJSON),
		nullString(rec.VocalAnalysisJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert interaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("interaction id: %w", err)
	}
	return id, nil
}

func (b *SQLiteBackend) UpsertFact(ctx context.Context, rec FactRecord) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO user_memory (key, value, last_updated) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, last_updated = excluded.last_updated`,
		rec.Key,
		rec.ValueCipher,
		formatTimestamp(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) ListFacts(ctx context.Context) ([]FactRecord, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value, last_updated FROM user_memory ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []FactRecord
	for rows.Next() {
		var (
			rec     FactRecord
			updated string
		)
		if err := rows.Scan(&rec.Key, &rec.ValueCipher, &updated); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		if rec.UpdatedAt, err = parseTimestamp(updated); err != nil {
			return nil, fmt.Errorf("parse fact timestamp: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return out, nil
}

func (b *SQLiteBackend) ListInteractions(ctx context.Context, sessionID int64) ([]InteractionRecord, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT interaction_id, session_id, created_at, role, text_content,
		        facial_emotion_dominant, facial_emotion_scores_json, vocal_analysis_json
		   FROM interactions WHERE session_id = ? ORDER BY created_at ASC, interaction_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []InteractionRecord
	for rows.Next() {
		var (
			rec                         InteractionRecord
			created                     string
			text, dominant, scores, voc sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &created, &rec.Role, &text, &dominant, &scores, &voc); err != nil {
			return nil, fmt.Errorf("scan interaction row: %w", err)
		}
		if rec.CreatedAt, err = parseTimestamp(created); err != nil {
			return nil, fmt.Errorf("parse interaction timestamp: %w", err)
		}
		rec.TextCipher = text.String
		rec.FacialDominant = dominant.String
		rec.FacialScoresJSON = scores.String
		rec.VocalAnalysisJSON = voc.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction rows: %w", err)
	}
	return out, nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
