// Package delivery drains the offline queue to the server. Categories are
// drained concurrently with respect to each other, while records within a
// category are delivered strictly in insertion order.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/NiroGuard/SyncGuard/internal/fetchcache"
	"github.com/NiroGuard/SyncGuard/internal/metrics"
	"github.com/NiroGuard/SyncGuard/internal/models"
	"github.com/NiroGuard/SyncGuard/internal/scheduler"
	"github.com/NiroGuard/SyncGuard/internal/store"
)

// Constants for the delivery runner
const (
	// DefaultAlertsSchedule is the cron expression for the periodic
	// critical-alerts refresh.
	DefaultAlertsSchedule = "*/15 * * * *"
	// DefaultHTTPTimeout bounds a single delivery request.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultAlertsCacheTTL is how long refreshed alerts stay in the
	// in-memory read cache.
	DefaultAlertsCacheTTL = 15 * time.Minute

	alertsCacheKey = "critical-alerts"
	alertsPath     = "/api/critical-alerts"
)

// Opts holds configuration options for the runner.
type Opts struct {
	BaseURL        string
	HTTPClient     *http.Client
	AlertsSchedule string
	SyncSchedule   string
	APIGeneration  func() string
}

// Option defines a configuration option for the runner.
type Option func(*Opts)

// WithBaseURL sets the server base URL deliveries are sent to.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithAlertsSchedule sets the cron expression for the critical-alerts
// refresh.
func WithAlertsSchedule(expr string) Option {
	return func(o *Opts) {
		o.AlertsSchedule = expr
	}
}

// WithSyncSchedule sets an optional cron expression for periodic queue
// drains, in addition to connectivity and manual triggers.
func WithSyncSchedule(expr string) Option {
	return func(o *Opts) {
		o.SyncSchedule = expr
	}
}

// WithAPIGeneration sets the function naming the cache generation refreshed
// alerts are written into.
func WithAPIGeneration(fn func() string) Option {
	return func(o *Opts) {
		o.APIGeneration = fn
	}
}

// Runner owns the queue drain loop and the periodic critical-alerts refresh.
type Runner struct {
	store          store.Store
	client         *http.Client
	baseURL        string
	alertsSchedule string
	syncSchedule   string
	apiGeneration  func() string
	alerts         *gocache.Cache
	trigger        chan struct{}
}

// NewRunner creates a delivery runner over the given store.
func NewRunner(s store.Store, opts ...Option) *Runner {
	cfg := Opts{
		AlertsSchedule: DefaultAlertsSchedule,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Runner{
		store:          s,
		client:         client,
		baseURL:        cfg.BaseURL,
		alertsSchedule: cfg.AlertsSchedule,
		syncSchedule:   cfg.SyncSchedule,
		apiGeneration:  cfg.APIGeneration,
		alerts:         gocache.New(DefaultAlertsCacheTTL, 2*DefaultAlertsCacheTTL),
		trigger:        make(chan struct{}, 1),
	}
}

// TriggerSync requests a queue drain. Never blocks; a trigger arriving while
// one is already pending is coalesced into it.
func (r *Runner) TriggerSync() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run processes sync triggers and schedules the periodic alerts refresh until
// the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	sched := scheduler.NewScheduler()
	err := sched.AddJob(r.alertsSchedule, func() {
		if err := r.RefreshCriticalAlerts(ctx); err != nil {
			slog.Warn("Runner scheduled alerts refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule alerts refresh: %w", err)
	}
	if r.syncSchedule != "" {
		if err := sched.AddJob(r.syncSchedule, r.TriggerSync); err != nil {
			return fmt.Errorf("failed to schedule periodic sync: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	slog.Info("Runner.Run started", "baseURL", r.baseURL, "alertsSchedule", r.alertsSchedule, "syncSchedule", r.syncSchedule)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Runner.Run stopped")
			return nil
		case <-r.trigger:
			r.SyncAll(ctx)
		}
	}
}

// SyncAll drains every category queue. Categories run concurrently; records
// within one category are delivered sequentially in insertion order. Delivery
// failures retain the record and never propagate.
func (r *Runner) SyncAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, category := range models.Categories() {
		wg.Add(1)
		go func(category models.Category) {
			defer wg.Done()
			r.syncCategory(ctx, category)
		}(category)
	}
	wg.Wait()
}

func (r *Runner) syncCategory(ctx context.Context, category models.Category) {
	records, err := r.store.ListRecords(category)
	if err != nil {
		slog.Error("Runner.syncCategory list failed", "error", err, "category", category)
		return
	}
	delivered := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		err := r.deliver(ctx, rec)
		latency := time.Since(start)
		if err != nil {
			slog.Warn("Runner.syncCategory delivery failed, record retained",
				"id", rec.ID, "category", category, "retryCount", rec.RetryCount+1, "error", err)
			metrics.RecordDelivery(string(category), "failure", latency)
			metrics.RecordRetry(string(category))
			if markErr := r.store.MarkRecordFailed(category, rec.ID, err.Error()); markErr != nil {
				slog.Error("Runner.syncCategory retry bookkeeping failed", "error", markErr, "id", rec.ID)
			}
			continue
		}
		metrics.RecordDelivery(string(category), "success", latency)
		if removeErr := r.store.RemoveRecord(category, rec.ID); removeErr != nil {
			slog.Error("Runner.syncCategory remove after delivery failed", "error", removeErr, "id", rec.ID)
			continue
		}
		delivered++
	}
	if depth, err := r.store.CountRecords(category); err == nil {
		metrics.UpdateQueueDepth(string(category), depth)
	}
	if delivered > 0 || len(records) > 0 {
		slog.Info("Runner.syncCategory completed", "category", category, "queued", len(records), "delivered", delivered)
	}
}

// deliver sends a single record to its server endpoint. Any outcome other
// than a 2xx response is a failure.
func (r *Runner) deliver(ctx context.Context, rec models.QueuedRecord) error {
	method, path, body, err := EndpointFor(rec.Category, rec.Payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server rejected delivery with status %d", resp.StatusCode)
	}
	return nil
}

// caseUpdatePayload is the envelope queued for case updates.
type caseUpdatePayload struct {
	CaseID string          `json:"caseId"`
	Data   json.RawMessage `json:"data"`
}

// EndpointFor maps a category and payload to the server request that delivers
// it. Case updates carry their case id inside the payload; a payload without
// one cannot be delivered.
func EndpointFor(category models.Category, payload json.RawMessage) (method, path string, body json.RawMessage, err error) {
	switch category {
	case models.CategoryHealthReport:
		return http.MethodPost, "/api/health-reports", payload, nil
	case models.CategoryWaterQuality:
		return http.MethodPost, "/api/water-quality", payload, nil
	case models.CategoryCaseUpdate:
		var cu caseUpdatePayload
		if err := json.Unmarshal(payload, &cu); err != nil {
			return "", "", nil, fmt.Errorf("%w: case update payload: %v", models.ErrInvalidPayload, err)
		}
		if cu.CaseID == "" {
			return "", "", nil, fmt.Errorf("%w: case update payload missing caseId", models.ErrInvalidPayload)
		}
		body := cu.Data
		if len(body) == 0 {
			body = payload
		}
		return http.MethodPut, "/api/cases/" + cu.CaseID, body, nil
	default:
		return "", "", nil, models.ErrInvalidCategory
	}
}

// RefreshCriticalAlerts fetches the latest critical alerts from the server
// and stores them in both the read cache and the durable API generation.
func (r *Runner) RefreshCriticalAlerts(ctx context.Context) error {
	url := r.baseURL + alertsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build alerts request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alerts refresh returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read alerts response: %w", err)
	}

	r.alerts.Set(alertsCacheKey, body, gocache.DefaultExpiration)

	if r.apiGeneration != nil {
		entry := models.CachedResponse{
			Generation: r.apiGeneration(),
			Key:        fetchcache.CacheKey(http.MethodGet, url),
			Status:     resp.StatusCode,
			Headers:    resp.Header.Clone(),
			Body:       body,
			StoredAt:   time.Now().UTC(),
		}
		if err := r.store.PutCachedResponse(entry); err != nil {
			slog.Error("Runner.RefreshCriticalAlerts durable cache write failed", "error", err)
		}
	}
	slog.Info("Runner.RefreshCriticalAlerts succeeded", "bytes", len(body))
	return nil
}

// CriticalAlerts returns the freshest available alerts: the in-memory read
// cache first, then a live refresh, then the durable cache when offline.
func (r *Runner) CriticalAlerts(ctx context.Context) ([]byte, error) {
	if cached, ok := r.alerts.Get(alertsCacheKey); ok {
		return cached.([]byte), nil
	}
	if err := r.RefreshCriticalAlerts(ctx); err != nil {
		slog.Debug("Runner.CriticalAlerts live refresh failed, trying durable cache", "error", err)
		if r.apiGeneration != nil {
			entry, lookupErr := r.store.GetCachedResponse(r.apiGeneration(), fetchcache.CacheKey(http.MethodGet, r.baseURL+alertsPath))
			if lookupErr == nil && entry != nil {
				return entry.Body, nil
			}
		}
		return nil, err
	}
	if cached, ok := r.alerts.Get(alertsCacheKey); ok {
		return cached.([]byte), nil
	}
	return nil, nil
}
