package memory

import (
	"context"
	"strings"
)

// InMemoryPath selects the in-process backend instead of a SQLite file.
const InMemoryPath = ":memory:"

// NewBackend picks postgres when databaseURL is set, otherwise SQLite at
// sqlitePath (or the in-memory backend for InMemoryPath).
func NewBackend(ctx context.Context, databaseURL, sqlitePath string) (Backend, string, error) {
	if strings.TrimSpace(databaseURL) != "" {
		b, err := NewPostgresBackend(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return b, "postgres", nil
	}
	if strings.TrimSpace(sqlitePath) == InMemoryPath {
		return NewInMemoryBackend(), "in-memory", nil
	}
	b, err := NewSQLiteBackend(ctx, sqlitePath)
	if err != nil {
		return nil, "", err
	}
	return b, "sqlite", nil
}
