// Package store provides local persistent storage backends for the movierec engine.
//
// It includes an in-memory store for tests, an SQLite-backed store for the
// default on-device cache, and a PostgreSQL-backed store for shared
// deployments. Two record kinds are persisted per identity: the raw preference
// payload and the completion flag. Corrupted or missing entries always degrade
// to "absent" rather than propagating parse failures.
package store

import "strings"

// Store is the local persistent key-per-identity store consumed by the
// preference synchronizer.
//
// GetPreferences returns the stored raw payload for an identity; found is
// false when no usable payload exists. Implementations must never surface a
// corruption error through found/err for unreadable payloads: those are
// treated as absent.
type Store interface {
	GetPreferences(identity string) (payloadJSON string, found bool, err error)
	SavePreferences(identity string, payloadJSON string) error
	DeletePreferences(identity string) error

	GetCompletionFlag(identity string) (completed bool, found bool, err error)
	SetCompletionFlag(identity string, completed bool) error
	DeleteCompletionFlag(identity string) error

	// ListIdentities returns every identity with a stored preference payload.
	// Used by the startup repair sweep.
	ListIdentities() ([]string, error)

	Close() error
}

// Opts holds store configuration options.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN string as "postgres" or "sqlite".
// PostgreSQL DSNs use URL or key=value forms; everything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
