package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/NiroGuard/SyncGuard/internal/models"
	"github.com/NiroGuard/SyncGuard/internal/util"
	_ "github.com/lib/pq"
)

// Constants for PostgreSQL connection pool configuration
const (
	// DefaultMaxOpenConns defines the maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns defines the maximum number of idle connections in the pool
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime defines the maximum lifetime of a connection
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the shared-backend variant of the store, used when several
// agent instances point at one central PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := recordSchemaVersion(db, "postgres"); err != nil {
		return nil, err
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// AddRecord persists a new queued record into the category sub-store.
func (s *PostgresStore) AddRecord(category models.Category, payload json.RawMessage) (string, error) {
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
		 VALUES ($1, $2, $3, $4, 0)`,
		rec.ID, string(rec.Category), string(rec.Payload), rec.EnqueuedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AddRecord failed", "error", err, "category", category)
		return "", fmt.Errorf("%w: insert record for %s: %v", models.ErrStorageFailure, category, err)
	}
	slog.Debug("PostgresStore.AddRecord succeeded", "id", rec.ID, "category", category)
	return rec.ID, nil
}

// ListRecords returns every queued record for the category in insertion order.
func (s *PostgresStore) ListRecords(category models.Category) ([]models.QueuedRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, category, payload_json, enqueued_at, retry_count, last_error
		 FROM pending_records WHERE category = $1 ORDER BY seq ASC`,
		string(category),
	)
	if err != nil {
		slog.Error("PostgresStore.ListRecords query failed", "error", err, "category", category)
		return nil, fmt.Errorf("failed to query records for %s: %w", category, err)
	}
	defer rows.Close()

	var records []models.QueuedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			slog.Error("PostgresStore.ListRecords scan failed", "error", err)
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore.ListRecords rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	slog.Debug("PostgresStore.ListRecords succeeded", "category", category, "count", len(records))
	return records, nil
}

// CountRecords returns the queue depth for the category.
func (s *PostgresStore) CountRecords(category models.Category) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pending_records WHERE category = $1`, string(category),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records for %s: %w", category, err)
	}
	return n, nil
}

// RemoveRecord deletes a record after confirmed delivery. Idempotent.
func (s *PostgresStore) RemoveRecord(category models.Category, id string) error {
	_, err := s.db.Exec(
		`DELETE FROM pending_records WHERE category = $1 AND id = $2`, string(category), id,
	)
	if err != nil {
		slog.Error("PostgresStore.RemoveRecord failed", "error", err, "id", id)
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}
	slog.Debug("PostgresStore.RemoveRecord succeeded", "id", id, "category", category)
	return nil
}

// MarkRecordFailed increments retry bookkeeping after a failed delivery.
func (s *PostgresStore) MarkRecordFailed(category models.Category, id string, deliveryErr string) error {
	_, err := s.db.Exec(
		`UPDATE pending_records SET retry_count = retry_count + 1, last_error = $1
		 WHERE category = $2 AND id = $3`,
		deliveryErr, string(category), id,
	)
	if err != nil {
		slog.Error("PostgresStore.MarkRecordFailed failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark record %s failed: %w", id, err)
	}
	return nil
}

// PutCachedResponse inserts or replaces an entry in its cache generation.
func (s *PostgresStore) PutCachedResponse(entry models.CachedResponse) error {
	headersJSON, err := encodeHeaders(entry.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO cached_responses (generation, cache_key, status, headers_json, body, stored_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (generation, cache_key) DO UPDATE SET
		   status = EXCLUDED.status, headers_json = EXCLUDED.headers_json,
		   body = EXCLUDED.body, stored_at = EXCLUDED.stored_at`,
		entry.Generation, entry.Key, entry.Status, headersJSON, entry.Body, entry.StoredAt,
	)
	if err != nil {
		slog.Error("PostgresStore.PutCachedResponse failed", "error", err, "generation", entry.Generation, "key", entry.Key)
		return fmt.Errorf("%w: cache put %s: %v", models.ErrStorageFailure, entry.Key, err)
	}
	slog.Debug("PostgresStore.PutCachedResponse succeeded", "generation", entry.Generation, "key", entry.Key)
	return nil
}

// GetCachedResponse looks up an entry; a miss returns (nil, nil).
func (s *PostgresStore) GetCachedResponse(generation, key string) (*models.CachedResponse, error) {
	row := s.db.QueryRow(
		`SELECT generation, cache_key, status, headers_json, body, stored_at
		 FROM cached_responses WHERE generation = $1 AND cache_key = $2`,
		generation, key,
	)
	entry, err := scanCachedResponse(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.GetCachedResponse miss", "generation", generation, "key", key)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetCachedResponse failed", "error", err, "key", key)
		return nil, err
	}
	return entry, nil
}

// CacheGenerations lists all generations currently holding entries.
func (s *PostgresStore) CacheGenerations() ([]string, error) {
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
func (s *PostgresStore) DeleteCacheGeneration(generation string) error {
	_, err := s.db.Exec(`DELETE FROM cached_responses WHERE generation = $1`, generation)
	if err != nil {
		slog.Error("PostgresStore.DeleteCacheGeneration failed", "error", err, "generation", generation)
		return fmt.Errorf("failed to delete cache generation %s: %w", generation, err)
	}
	slog.Debug("PostgresStore.DeleteCacheGeneration succeeded", "generation", generation)
	return nil
}

// SweepCacheGenerations deletes every generation not in the current set.
func (s *PostgresStore) SweepCacheGenerations(current []string) (int, error) {
	return sweepGenerations(s, current)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
