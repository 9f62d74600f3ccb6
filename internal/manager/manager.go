// Package manager is the client-facing sync facade. It accepts write
// submissions with offline fallback, reacts to connectivity transitions, and
// drives the cache generation update lifecycle.
package manager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/NiroGuard/SyncGuard/internal/connectivity"
	"github.com/NiroGuard/SyncGuard/internal/delivery"
	"github.com/NiroGuard/SyncGuard/internal/models"
	"github.com/NiroGuard/SyncGuard/internal/notify"
	"github.com/NiroGuard/SyncGuard/internal/store"
)

// DefaultSubmitTimeout bounds a live submit attempt before falling back to
// the queue.
const DefaultSubmitTimeout = 10 * time.Second

// Activator is the cache generation lifecycle surface the manager drives.
// The fetchcache transport implements it.
type Activator interface {
	Version() string
	SetVersion(v string)
	Activate(ctx context.Context) (int, error)
	PrecacheURLs(ctx context.Context, urls []string) error
}

// Opts holds configuration options for the manager.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
	Trigger    func()
}

// Option defines a configuration option for the manager.
type Option func(*Opts)

// WithBaseURL sets the server base URL live submissions are sent to.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for live submissions.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithTrigger sets the callback requesting a background queue drain.
func WithTrigger(fn func()) Option {
	return func(o *Opts) {
		o.Trigger = fn
	}
}

// Manager coordinates submissions, connectivity reactions, notifications, and
// the update lifecycle. All collaborators are injected.
type Manager struct {
	store     store.Store
	monitor   *connectivity.Monitor
	notifier  *notify.Notifier
	activator Activator
	client    *http.Client
	baseURL   string
	trigger   func()

	mu             sync.Mutex
	pendingVersion string
}

// New creates a manager and registers its connectivity observers with the
// monitor.
func New(s store.Store, monitor *connectivity.Monitor, notifier *notify.Notifier, activator Activator, opts ...Option) *Manager {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultSubmitTimeout}
	}
	m := &Manager{
		store:     s,
		monitor:   monitor,
		notifier:  notifier,
		activator: activator,
		client:    client,
		baseURL:   cfg.BaseURL,
		trigger:   cfg.Trigger,
	}
	if monitor != nil {
		monitor.OnOnline(m.handleOnline)
		monitor.OnOffline(m.handleOffline)
	}
	return m
}

// Submit accepts a write. When online it attempts live delivery first and
// falls back to the durable queue; when offline it queues immediately. A
// queued submission is a success from the caller's perspective.
func (m *Manager) Submit(ctx context.Context, req models.SubmitRequest) (models.SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return models.SubmitResult{}, err
	}

	if m.monitor == nil || m.monitor.Online() {
		if err := m.submitLive(ctx, req); err == nil {
			slog.Debug("Manager.Submit delivered live", "category", req.Category)
			return models.SubmitResult{Queued: false}, nil
		} else {
			slog.Info("Manager.Submit live delivery failed, queueing", "category", req.Category, "error", err)
		}
	}

	id, err := m.store.AddRecord(req.Category, req.Payload)
	if err != nil {
		slog.Error("Manager.Submit queue write failed", "error", err, "category", req.Category)
		return models.SubmitResult{}, err
	}
	slog.Info("Manager.Submit queued for background delivery", "id", id, "category", req.Category)
	if m.trigger != nil {
		m.trigger()
	}
	return models.SubmitResult{Queued: true, RecordID: id}, nil
}

func (m *Manager) submitLive(ctx context.Context, req models.SubmitRequest) error {
	method, path, body, err := delivery.EndpointFor(req.Category, req.Payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server rejected submit with status %d", resp.StatusCode)
	}
	return nil
}

// handleOnline runs when connectivity is regained: drain the queue and tell
// the user their pending reports are syncing.
func (m *Manager) handleOnline() {
	slog.Info("Manager connectivity regained")
	if m.trigger != nil {
		m.trigger()
	}
	m.notifyQuietly(models.NotificationPayload{
		Title: "Back online",
		Body:  "Connection restored. Syncing pending reports.",
		Tag:   "connectivity",
	})
}

// handleOffline runs when connectivity is lost.
func (m *Manager) handleOffline() {
	slog.Info("Manager connectivity lost")
	m.notifyQuietly(models.NotificationPayload{
		Title: "You are offline",
		Body:  "Reports will be saved and sent when connection returns.",
		Tag:   "connectivity",
	})
}

// Notify sends a user-facing notification through the configured services.
func (m *Manager) Notify(payload models.NotificationPayload) error {
	if m.notifier == nil {
		return nil
	}
	return m.notifier.Send(payload)
}

func (m *Manager) notifyQuietly(payload models.NotificationPayload) {
	if err := m.Notify(payload); err != nil {
		slog.Warn("Manager notification failed", "error", err, "tag", payload.Tag)
	}
}

// StageUpdate records a new application version as pending. The active cache
// generations are untouched until ApplyPendingUpdate.
func (m *Manager) StageUpdate(version string) error {
	if version == "" {
		return fmt.Errorf("%w: empty version", models.ErrInvalidPayload)
	}
	m.mu.Lock()
	m.pendingVersion = version
	m.mu.Unlock()
	slog.Info("Manager.StageUpdate staged", "version", version)
	m.notifyQuietly(models.NotificationPayload{
		Title: "Update available",
		Body:  "A new version is ready. It will be applied on next refresh.",
		Tag:   "app-update",
	})
	return nil
}

// PendingUpdate returns the staged version, or "" when none is pending.
func (m *Manager) PendingUpdate() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingVersion
}

// ApplyPendingUpdate switches the cache generations to the staged version and
// sweeps the old ones. Returns the activated version.
func (m *Manager) ApplyPendingUpdate(ctx context.Context) (string, error) {
	m.mu.Lock()
	version := m.pendingVersion
	m.mu.Unlock()
	if version == "" {
		return "", models.ErrNoPendingUpdate
	}

	m.activator.SetVersion(version)
	deleted, err := m.activator.Activate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to activate version %s: %w", version, err)
	}

	m.mu.Lock()
	m.pendingVersion = ""
	m.mu.Unlock()
	slog.Info("Manager.ApplyPendingUpdate activated", "version", version, "sweptGenerations", deleted)
	return version, nil
}

// PreloadCriticalData fetches and caches the given URLs so they are available
// offline.
func (m *Manager) PreloadCriticalData(ctx context.Context, urls []string) error {
	return m.activator.PrecacheURLs(ctx, urls)
}

// NetworkStatus reports the monitor's current view of connectivity.
func (m *Manager) NetworkStatus() models.NetworkStatus {
	if m.monitor == nil {
		return models.NetworkStatus{IsOnline: true}
	}
	return m.monitor.Status()
}

// QueueDepths returns the pending record count per category.
func (m *Manager) QueueDepths() (map[models.Category]int, error) {
	depths := make(map[models.Category]int, len(models.Categories()))
	for _, category := range models.Categories() {
		n, err := m.store.CountRecords(category)
		if err != nil {
			return nil, err
		}
		depths[category] = n
	}
	return depths, nil
}

// QueuedRecords lists the pending records for one category.
func (m *Manager) QueuedRecords(category models.Category) ([]models.QueuedRecord, error) {
	if !models.IsValidCategory(category) {
		return nil, models.ErrInvalidCategory
	}
	return m.store.ListRecords(category)
}
