// Package store provides storage backends for SyncGuard.
//
// It implements the persistent offline queue (category sub-stores of records
// awaiting server delivery) and the durable response cache (named cache
// generations), with SQLite, PostgreSQL, and in-memory backends.
package store

import (
	"encoding/json"
	"strings"

	"github.com/NiroGuard/SyncGuard/internal/models"
)

// SchemaVersion is the current structural version of the store. Opening a
// store written at an older version creates any missing tables; existing
// data is never touched.
const SchemaVersion = 1

// Store is the interface all storage backends implement.
type Store interface {
	// AddRecord constructs a QueuedRecord for the payload, persists it into
	// the category's sub-store, and returns the generated id. A failure is
	// reported as models.ErrStorageFailure and affects only this call.
	AddRecord(category models.Category, payload json.RawMessage) (string, error)

	// ListRecords returns every record queued for the category in insertion
	// order.
	ListRecords(category models.Category) ([]models.QueuedRecord, error)

	// CountRecords returns the number of records queued for the category.
	CountRecords(category models.Category) (int, error)

	// RemoveRecord deletes a single record after confirmed delivery.
	// Removing an absent id is not an error.
	RemoveRecord(category models.Category, id string) error

	// MarkRecordFailed increments the record's retry count and stores the
	// last delivery error. The record stays queued.
	MarkRecordFailed(category models.Category, id string, deliveryErr string) error

	// PutCachedResponse inserts or replaces a cached response in its
	// generation.
	PutCachedResponse(entry models.CachedResponse) error

	// GetCachedResponse looks up a cached response by generation and key.
	// A miss returns (nil, nil); it is not an error.
	GetCachedResponse(generation, key string) (*models.CachedResponse, error)

	// CacheGenerations lists the names of all cache generations currently
	// holding entries.
	CacheGenerations() ([]string, error)

	// DeleteCacheGeneration removes every entry in the named generation.
	DeleteCacheGeneration(generation string) error

	// SweepCacheGenerations deletes every generation whose name is not in
	// the current set and returns the number of generations removed.
	SweepCacheGenerations(current []string) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite or a
	// postgres:// URL / key=value DSN for PostgreSQL.
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType determines the database type from a DSN string.
// Returns "postgres" for PostgreSQL connection strings, "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// New creates a store backend based on the provided options: PostgreSQL when
// the DSN looks like a postgres connection string, SQLite for file paths,
// and an in-memory store when no DSN is configured.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
