// Package store provides storage backends for the movierec engine.
//
// This file implements a PostgreSQL-backed store for shared deployments where
// several devices in one household point at the same preference cache.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetPreferences(identity string) (string, bool, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM preferences WHERE identity = $1`, identity).Scan(&payload)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetPreferences not found", "identity", identity)
		return "", false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPreferences failed", "error", err, "identity", identity)
		return "", false, fmt.Errorf("failed to query preferences for %s: %w", identity, err)
	}
	if payload == "" {
		return "", false, nil
	}
	slog.Debug("PostgresStore GetPreferences succeeded", "identity", identity, "bytes", len(payload))
	return payload, true, nil
}

func (s *PostgresStore) SavePreferences(identity, payloadJSON string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (identity, payload, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		identity, payloadJSON, time.Now())
	if err != nil {
		slog.Error("PostgresStore SavePreferences failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to save preferences for %s: %w", identity, err)
	}
	slog.Debug("PostgresStore SavePreferences succeeded", "identity", identity)
	return nil
}

func (s *PostgresStore) DeletePreferences(identity string) error {
	_, err := s.db.Exec(`DELETE FROM preferences WHERE identity = $1`, identity)
	if err != nil {
		slog.Error("PostgresStore DeletePreferences failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to delete preferences for %s: %w", identity, err)
	}
	return nil
}

func (s *PostgresStore) GetCompletionFlag(identity string) (bool, bool, error) {
	var completed bool
	err := s.db.QueryRow(`SELECT completed FROM completion_flags WHERE identity = $1`, identity).Scan(&completed)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCompletionFlag failed", "error", err, "identity", identity)
		return false, false, fmt.Errorf("failed to query completion flag for %s: %w", identity, err)
	}
	return completed, true, nil
}

func (s *PostgresStore) SetCompletionFlag(identity string, completed bool) error {
	_, err := s.db.Exec(`
		INSERT INTO completion_flags (identity, completed, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO UPDATE SET completed = EXCLUDED.completed, updated_at = EXCLUDED.updated_at`,
		identity, completed, time.Now())
	if err != nil {
		slog.Error("PostgresStore SetCompletionFlag failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to set completion flag for %s: %w", identity, err)
	}
	return nil
}

func (s *PostgresStore) DeleteCompletionFlag(identity string) error {
	_, err := s.db.Exec(`DELETE FROM completion_flags WHERE identity = $1`, identity)
	if err != nil {
		slog.Error("PostgresStore DeleteCompletionFlag failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to delete completion flag for %s: %w", identity, err)
	}
	return nil
}

func (s *PostgresStore) ListIdentities() ([]string, error) {
	rows, err := s.db.Query(`SELECT identity FROM preferences ORDER BY identity`)
	if err != nil {
		slog.Error("PostgresStore ListIdentities query failed", "error", err)
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			slog.Error("PostgresStore ListIdentities scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan identity row: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListIdentities rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate identity rows: %w", err)
	}
	return identities, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
