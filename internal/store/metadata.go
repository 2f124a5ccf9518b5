package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const schemaVersion = "1"

// Metadata keys of the SQLite log.
const (
	metaSchemaVersion = "schema_version"
	metaClearedAt     = "cleared_at"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setMetadata(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO log_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Metadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (l *SQLiteLog) Metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := l.db.QueryRowContext(ctx, `SELECT value FROM log_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// LastCleared reports when the log was last emptied, typically by a restore.
// The zero time means it never was.
func (l *SQLiteLog) LastCleared(ctx context.Context) (time.Time, error) {
	v, err := l.Metadata(ctx, metaClearedAt)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", metaClearedAt, err)
	}
	return t, nil
}
