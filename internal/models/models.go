// Package models defines the core data structures for SyncGuard.
//
// It includes the queued-record and cached-response types shared across the
// store, delivery, and fetch-interception modules.
package models

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Category identifies a class of offline-queueable write. Each category maps
// to its own sub-store in the persistent queue and to one server endpoint.
type Category string

const (
	// CategoryHealthReport is a community health report submission.
	CategoryHealthReport Category = "health-report"
	// CategoryWaterQuality is a water quality monitoring report.
	CategoryWaterQuality Category = "water-quality"
	// CategoryCaseUpdate is a status update for an existing case. Ordering
	// matters within this category: updates replay in enqueue order.
	CategoryCaseUpdate Category = "case-update"
)

// Validation constants for input validation
const (
	// MaxPayloadBytes defines the maximum allowed size of a queued payload
	MaxPayloadBytes = 256 * 1024
)

// Error variables for better error handling and testability
var (
	ErrInvalidCategory = errors.New("invalid category")
	ErrEmptyPayload    = errors.New("payload cannot be empty")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrInvalidPayload  = errors.New("payload is not valid JSON")

	// ErrStorageFailure indicates the durable store could not persist a
	// record (quota exceeded or storage unavailable). Fatal to the add()
	// call it affects, never to the queue as a whole.
	ErrStorageFailure = errors.New("storage failure")

	// ErrRecordNotFound indicates a record id was not present in its
	// category sub-store.
	ErrRecordNotFound = errors.New("record not found")

	// ErrNoPendingUpdate indicates an update activation was requested with
	// no staged version.
	ErrNoPendingUpdate = errors.New("no pending update staged")
)

// IsValidCategory checks if the given category is supported.
func IsValidCategory(c Category) bool {
	switch c {
	case CategoryHealthReport, CategoryWaterQuality, CategoryCaseUpdate:
		return true
	default:
		return false
	}
}

// Categories returns all supported categories in a fixed order.
func Categories() []Category {
	return []Category{CategoryHealthReport, CategoryWaterQuality, CategoryCaseUpdate}
}

// QueuedRecord is a durable write awaiting server delivery.
//
// ID, Category, Payload, and EnqueuedAt are immutable after creation; only
// retry bookkeeping (RetryCount, LastError) changes across delivery attempts.
type QueuedRecord struct {
	ID         string          `json:"id"`
	Category   Category        `json:"category"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// Validate checks that a record is structurally sound before persisting.
func (r *QueuedRecord) Validate() error {
	if !IsValidCategory(r.Category) {
		return ErrInvalidCategory
	}
	return ValidatePayload(r.Payload)
}

// ValidatePayload checks that a payload is non-empty, bounded, and valid JSON.
// The queue never inspects payload contents beyond this.
func ValidatePayload(payload json.RawMessage) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	if !json.Valid(payload) {
		return ErrInvalidPayload
	}
	return nil
}

// CachedResponse is a last-known-good response stored in a named cache
// generation. Freshness is not time-based: entries are replaced
// opportunistically on every successful fetch and otherwise served
// indefinitely as a fallback.
type CachedResponse struct {
	Generation string      `json:"generation"`
	Key        string      `json:"key"` // method + URL
	Status     int         `json:"status"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// NetworkStatus is a snapshot of the connectivity monitor's state.
type NetworkStatus struct {
	IsOnline  bool      `json:"is_online"`
	Target    string    `json:"target,omitempty"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// NotificationAction describes a selectable action attached to a
// user-visible notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// NotificationPayload is a user-visible alert request.
type NotificationPayload struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Tag                string               `json:"tag,omitempty"`
	Data               map[string]any       `json:"data,omitempty"`
	Actions            []NotificationAction `json:"actions,omitempty"`
	RequireInteraction bool                 `json:"require_interaction,omitempty"`
}

// Validate checks a notification payload for required fields.
func (p *NotificationPayload) Validate() error {
	if p.Title == "" && p.Body == "" {
		return errors.New("notification requires a title or body")
	}
	return nil
}

// SubmitRequest is the facade's write request: a category plus an opaque
// JSON payload.
type SubmitRequest struct {
	Category Category        `json:"category"`
	Payload  json.RawMessage `json:"payload"`
}

// Validate performs validation on a SubmitRequest structure.
func (s *SubmitRequest) Validate() error {
	if !IsValidCategory(s.Category) {
		return ErrInvalidCategory
	}
	return ValidatePayload(s.Payload)
}

// SubmitResult reports how a submit was satisfied: delivered live, or
// queued durably for background delivery.
type SubmitResult struct {
	Queued   bool   `json:"queued"`
	RecordID string `json:"record_id,omitempty"`
}

// OfflineResponse is the synthesized body returned for a failed read with no
// cache fallback.
type OfflineResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Cached  bool   `json:"cached"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful API call.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed API call.
	APIStatusError APIStatus = "error"
	// APIStatusQueued indicates the write was accepted into the offline queue.
	APIStatusQueued APIStatus = "queued"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Queued creates a queued API response with the generated record id.
func Queued(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusQueued), Result: result}
}
