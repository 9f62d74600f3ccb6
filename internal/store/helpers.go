package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/NiroGuard/SyncGuard/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows so the scan helpers can serve
// both single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans one pending_records row into a QueuedRecord.
func scanRecord(row rowScanner) (models.QueuedRecord, error) {
	var rec models.QueuedRecord
	var category, payload string
	var lastError sql.NullString
	if err := row.Scan(&rec.ID, &category, &payload, &rec.EnqueuedAt, &rec.RetryCount, &lastError); err != nil {
		return models.QueuedRecord{}, fmt.Errorf("failed to scan record row: %w", err)
	}
	rec.Category = models.Category(category)
	rec.Payload = json.RawMessage(payload)
	if lastError.Valid {
		rec.LastError = lastError.String
	}
	return rec, nil
}

// scanCachedResponse scans one cached_responses row. sql.ErrNoRows passes
// through untouched so callers can translate it into a cache miss.
func scanCachedResponse(row rowScanner) (*models.CachedResponse, error) {
	var entry models.CachedResponse
	var headersJSON string
	if err := row.Scan(&entry.Generation, &entry.Key, &entry.Status, &headersJSON, &entry.Body, &entry.StoredAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cached response row: %w", err)
	}
	headers, err := decodeHeaders(headersJSON)
	if err != nil {
		return nil, err
	}
	entry.Headers = headers
	return &entry, nil
}

// encodeHeaders serializes response headers for storage.
func encodeHeaders(h http.Header) (string, error) {
	if h == nil {
		h = http.Header{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to encode response headers: %w", err)
	}
	return string(data), nil
}

// decodeHeaders restores headers serialized by encodeHeaders.
func decodeHeaders(s string) (http.Header, error) {
	h := http.Header{}
	if s == "" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, fmt.Errorf("failed to decode response headers: %w", err)
	}
	return h, nil
}

// recordSchemaVersion upserts the current schema version after migrations run.
func recordSchemaVersion(db *sql.DB, driver string) error {
	var query string
	switch driver {
	case "postgres":
		query = `INSERT INTO schema_meta (id, version) VALUES (1, $1)
			 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`
	default:
		query = `INSERT INTO schema_meta (id, version) VALUES (1, ?)
			 ON CONFLICT (id) DO UPDATE SET version = excluded.version`
	}
	if _, err := db.Exec(query, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// sweepGenerations implements the full-generation sweep shared by all
// backends: every generation not named in current is deleted wholesale.
func sweepGenerations(s Store, current []string) (int, error) {
	keep := make(map[string]bool, len(current))
	for _, g := range current {
		keep[g] = true
	}
	generations, err := s.CacheGenerations()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, g := range generations {
		if keep[g] {
			continue
		}
		if err := s.DeleteCacheGeneration(g); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
