// Package store provides storage backends for the movierec engine.
//
// This file implements the SQLite-backed store used as the default on-device
// preference cache.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetPreferences(identity string) (string, bool, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM preferences WHERE identity = ?`, identity).Scan(&payload)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetPreferences not found", "identity", identity)
		return "", false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPreferences failed", "error", err, "identity", identity)
		return "", false, fmt.Errorf("failed to query preferences for %s: %w", identity, err)
	}
	if payload == "" {
		// An empty payload is as good as no payload.
		return "", false, nil
	}
	slog.Debug("SQLiteStore GetPreferences succeeded", "identity", identity, "bytes", len(payload))
	return payload, true, nil
}

func (s *SQLiteStore) SavePreferences(identity, payloadJSON string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO preferences (identity, payload, updated_at)
		VALUES (?, ?, ?)`, identity, payloadJSON, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SavePreferences failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to save preferences for %s: %w", identity, err)
	}
	slog.Debug("SQLiteStore SavePreferences succeeded", "identity", identity)
	return nil
}

func (s *SQLiteStore) DeletePreferences(identity string) error {
	_, err := s.db.Exec(`DELETE FROM preferences WHERE identity = ?`, identity)
	if err != nil {
		slog.Error("SQLiteStore DeletePreferences failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to delete preferences for %s: %w", identity, err)
	}
	slog.Debug("SQLiteStore DeletePreferences succeeded", "identity", identity)
	return nil
}

func (s *SQLiteStore) GetCompletionFlag(identity string) (bool, bool, error) {
	var completed bool
	err := s.db.QueryRow(`SELECT completed FROM completion_flags WHERE identity = ?`, identity).Scan(&completed)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCompletionFlag failed", "error", err, "identity", identity)
		return false, false, fmt.Errorf("failed to query completion flag for %s: %w", identity, err)
	}
	return completed, true, nil
}

func (s *SQLiteStore) SetCompletionFlag(identity string, completed bool) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO completion_flags (identity, completed, updated_at)
		VALUES (?, ?, ?)`, identity, completed, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SetCompletionFlag failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to set completion flag for %s: %w", identity, err)
	}
	slog.Debug("SQLiteStore SetCompletionFlag succeeded", "identity", identity, "completed", completed)
	return nil
}

func (s *SQLiteStore) DeleteCompletionFlag(identity string) error {
	_, err := s.db.Exec(`DELETE FROM completion_flags WHERE identity = ?`, identity)
	if err != nil {
		slog.Error("SQLiteStore DeleteCompletionFlag failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to delete completion flag for %s: %w", identity, err)
	}
	return nil
}

func (s *SQLiteStore) ListIdentities() ([]string, error) {
	rows, err := s.db.Query(`SELECT identity FROM preferences ORDER BY identity`)
	if err != nil {
		slog.Error("SQLiteStore ListIdentities query failed", "error", err)
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			slog.Error("SQLiteStore ListIdentities scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan identity row: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListIdentities rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate identity rows: %w", err)
	}
	slog.Debug("SQLiteStore ListIdentities succeeded", "count", len(identities))
	return identities, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
