// Package store provides storage backends for SyncGuard.
//
// This file implements the SQLite-backed store: the embedded, durable backend
// used on devices where the agent runs alongside the client application.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/NiroGuard/SyncGuard/internal/models"
	"github.com/NiroGuard/SyncGuard/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the embedded durable backend for the offline queue and the
// response cache.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

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

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := recordSchemaVersion(db, "sqlite"); err != nil {
		return nil, err
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AddRecord persists a new queued record into the category sub-store.
func (s *SQLiteStore) AddRecord(category models.Category, payload json.RawMessage) (string, error) {
	now := time.Now().UTC()
	rec := models.QueuedRecord{
		ID:         util.GenerateRecordID(string(category), now),
		Category:   category,
		Payload:    payload,
		EnqueuedAt: now,
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	_, err := s.db.Exec(
		`INSERT INTO pending_records (id, category, payload_json, enqueued_at, retry_count)
		 VALUES (?, ?, ?, ?, 0)`,
		rec.ID, string(rec.Category), string(rec.Payload), rec.EnqueuedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AddRecord failed", "error", err, "category", category)
		return "", fmt.Errorf("%w: insert record for %s: %v", models.ErrStorageFailure, category, err)
	}
	slog.Debug("SQLiteStore.AddRecord succeeded", "id", rec.ID, "category", category)
	return rec.ID, nil
}

// ListRecords returns every queued record for the category in insertion order.
func (s *SQLiteStore) ListRecords(category models.Category) ([]models.QueuedRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, category, payload_json, enqueued_at, retry_count, last_error
		 FROM pending_records WHERE category = ? ORDER BY enqueued_at ASC, rowid ASC`,
		string(category),
	)
	if err != nil {
		slog.Error("SQLiteStore.ListRecords query failed", "error", err, "category", category)
		return nil, fmt.Errorf("failed to query records for %s: %w", category, err)
	}
	defer rows.Close()

	var records []models.QueuedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			slog.Error("SQLiteStore.ListRecords scan failed", "error", err)
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.ListRecords rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	slog.Debug("SQLiteStore.ListRecords succeeded", "category", category, "count", len(records))
	return records, nil
}

// CountRecords returns the queue depth for the category.
func (s *SQLiteStore) CountRecords(category models.Category) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pending_records WHERE category = ?`, string(category),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records for %s: %w", category, err)
	}
	return n, nil
}

// RemoveRecord deletes a record after confirmed delivery. Idempotent.
func (s *SQLiteStore) RemoveRecord(category models.Category, id string) error {
	_, err := s.db.Exec(
		`DELETE FROM pending_records WHERE category = ? AND id = ?`, string(category), id,
	)
	if err != nil {
		slog.Error("SQLiteStore.RemoveRecord failed", "error", err, "id", id)
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}
	slog.Debug("SQLiteStore.RemoveRecord succeeded", "id", id, "category", category)
	return nil
}

// MarkRecordFailed increments retry bookkeeping after a failed delivery.
func (s *SQLiteStore) MarkRecordFailed(category models.Category, id string, deliveryErr string) error {
	_, err := s.db.Exec(
		`UPDATE pending_records SET retry_count = retry_count + 1, last_error = ?
		 WHERE category = ? AND id = ?`,
		deliveryErr, string(category), id,
	)
	if err != nil {
		slog.Error("SQLiteStore.MarkRecordFailed failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark record %s failed: %w", id, err)
	}
	return nil
}

// PutCachedResponse inserts or replaces an entry in its cache generation.
func (s *SQLiteStore) PutCachedResponse(entry models.CachedResponse) error {
	headersJSON, err := encodeHeaders(entry.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO cached_responses (generation, cache_key, status, headers_json, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Generation, entry.Key, entry.Status, headersJSON, entry.Body, entry.StoredAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.PutCachedResponse failed", "error", err, "generation", entry.Generation, "key", entry.Key)
		return fmt.Errorf("%w: cache put %s: %v", models.ErrStorageFailure, entry.Key, err)
	}
	slog.Debug("SQLiteStore.PutCachedResponse succeeded", "generation", entry.Generation, "key", entry.Key)
	return nil
}

// GetCachedResponse looks up an entry; a miss returns (nil, nil).
func (s *SQLiteStore) GetCachedResponse(generation, key string) (*models.CachedResponse, error) {
	row := s.db.QueryRow(
		`SELECT generation, cache_key, status, headers_json, body, stored_at
		 FROM cached_responses WHERE generation = ? AND cache_key = ?`,
		generation, key,
	)
	entry, err := scanCachedResponse(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.GetCachedResponse miss", "generation", generation, "key", key)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetCachedResponse failed", "error", err, "key", key)
		return nil, err
	}
	return entry, nil
}

// CacheGenerations lists all generations currently holding entries.
func (s *SQLiteStore) CacheGenerations() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT generation FROM cached_responses ORDER BY generation`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache generations: %w", err)
	}
	defer rows.Close()

	var generations []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan generation row: %w", err)
		}
		generations = append(generations, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generation rows: %w", err)
	}
	return generations, nil
}

// DeleteCacheGeneration removes every entry in the named generation.
func (s *SQLiteStore) DeleteCacheGeneration(generation string) error {
	_, err := s.db.Exec(`DELETE FROM cached_responses WHERE generation = ?`, generation)
	if err != nil {
		slog.Error("SQLiteStore.DeleteCacheGeneration failed", "error", err, "generation", generation)
		return fmt.Errorf("failed to delete cache generation %s: %w", generation, err)
	}
	slog.Debug("SQLiteStore.DeleteCacheGeneration succeeded", "generation", generation)
	return nil
}

// SweepCacheGenerations deletes every generation not in the current set.
func (s *SQLiteStore) SweepCacheGenerations(current []string) (int, error) {
	return sweepGenerations(s, current)
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
