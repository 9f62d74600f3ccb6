// Package connectivity tracks whether the server is reachable and notifies
// registered observers when the state changes.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/NiroGuard/SyncGuard/internal/models"
)

// Constants for connectivity probing
const (
	// DefaultProbeInterval is how often the monitor probes the server.
	DefaultProbeInterval = 30 * time.Second
	// DefaultProbeTimeout bounds a single probe request.
	DefaultProbeTimeout = 5 * time.Second
)

// Opts holds configuration options for the monitor.
type Opts struct {
	ProbeURL      string
	Interval      time.Duration
	HTTPClient    *http.Client
	InitialOnline bool
}

// Option defines a configuration option for the monitor.
type Option func(*Opts)

// WithProbeURL sets the URL probed to detect connectivity.
func WithProbeURL(url string) Option {
	return func(o *Opts) {
		o.ProbeURL = url
	}
}

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.Interval = d
	}
}

// WithHTTPClient sets the HTTP client used for probes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithInitialOnline sets the assumed state before the first probe completes.
func WithInitialOnline(online bool) Option {
	return func(o *Opts) {
		o.InitialOnline = online
	}
}

// Monitor tracks online/offline state. Observers registered with OnOnline and
// OnOffline are invoked synchronously, in registration order, on each
// transition.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu        sync.Mutex
	online    bool
	latency   time.Duration
	checkedAt time.Time
	onOnline  []func()
	onOffline []func()
}

// New creates a connectivity monitor.
func New(opts ...Option) *Monitor {
	cfg := Opts{
		Interval:      DefaultProbeInterval,
		InitialOnline: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &Monitor{
		probeURL: cfg.ProbeURL,
		interval: cfg.Interval,
		client:   client,
		online:   cfg.InitialOnline,
	}
}

// OnOnline registers an observer invoked when connectivity is regained.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// OnOffline registers an observer invoked when connectivity is lost.
func (m *Monitor) OnOffline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = append(m.onOffline, fn)
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Status returns a snapshot of the last known network state.
func (m *Monitor) Status() models.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.NetworkStatus{
		IsOnline:  m.online,
		Target:    m.probeURL,
		LatencyMs: m.latency.Milliseconds(),
		CheckedAt: m.checkedAt,
	}
}

// SetOnline records a state observation. Observers run only on an actual
// transition; setting the current state again is a no-op.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.checkedAt = time.Now().UTC()
	var observers []func()
	if changed {
		if online {
			observers = append(observers, m.onOnline...)
		} else {
			observers = append(observers, m.onOffline...)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("Monitor.SetOnline state changed", "online", online)
	for _, fn := range observers {
		fn()
	}
}

// Probe issues a single connectivity check and updates the state.
func (m *Monitor) Probe(ctx context.Context) models.NetworkStatus {
	start := time.Now()
	online := false
	if m.probeURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
		if err == nil {
			resp, err := m.client.Do(req)
			if err == nil {
				resp.Body.Close()
				online = true
			} else {
				slog.Debug("Monitor.Probe request failed", "error", err, "url", m.probeURL)
			}
		}
	}
	latency := time.Since(start)

	m.mu.Lock()
	m.latency = latency
	m.mu.Unlock()
	m.SetOnline(online)
	return m.Status()
}

// Start runs the periodic probe loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.probeURL == "" {
		slog.Warn("Monitor.Start skipping probe loop, no probe URL configured")
		return
	}
	slog.Info("Monitor.Start probe loop running", "url", m.probeURL, "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Monitor.Start probe loop stopped")
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
