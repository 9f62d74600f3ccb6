// Package api provides HTTP handlers and the main server logic for SyncGuard.
//
// It exposes the sync facade over REST: submissions with offline fallback,
// queue inspection, manual sync triggers, cache lifecycle messages, and
// Prometheus metrics. The server wires together the store, interception
// transport, connectivity monitor, delivery runner, and manager modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NiroGuard/SyncGuard/internal/connectivity"
	"github.com/NiroGuard/SyncGuard/internal/delivery"
	"github.com/NiroGuard/SyncGuard/internal/fetchcache"
	"github.com/NiroGuard/SyncGuard/internal/manager"
	"github.com/NiroGuard/SyncGuard/internal/metrics"
	"github.com/NiroGuard/SyncGuard/internal/notify"
	"github.com/NiroGuard/SyncGuard/internal/store"
)

// Constants for the API server
const (
	// DefaultAddr is the default listen address for the API server.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on exit.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr      string
	ServerURL string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithServerURL sets the upstream base URL proxied requests are forwarded to.
func WithServerURL(url string) Option {
	return func(o *Opts) {
		o.ServerURL = url
	}
}

// Server handles HTTP requests against the sync facade.
type Server struct {
	addr      string
	serverURL string
	manager   *manager.Manager
	runner    *delivery.Runner
	transport *fetchcache.Transport
	proxy     *http.Client
	registry  *prometheus.Registry
}

// NewServer creates an API server over the given collaborators. Requests to
// the proxy routes are fetched through the interception transport, so they
// get its caching and offline behavior.
func NewServer(mgr *manager.Manager, runner *delivery.Runner, transport *fetchcache.Transport, registry *prometheus.Registry, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:      cfg.Addr,
		serverURL: cfg.ServerURL,
		manager:   mgr,
		runner:    runner,
		transport: transport,
		proxy:     &http.Client{Transport: transport},
		registry:  registry,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", s.submitHandler)
	mux.HandleFunc("/queue", s.queueHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/sync", s.syncHandler)
	mux.HandleFunc("/messages", s.messagesHandler)
	mux.HandleFunc("/notifications", s.notificationsHandler)
	mux.HandleFunc("/alerts", s.alertsHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/proxy/", s.proxyHandler)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run wires every module together and serves the API until interrupted.
func Run(storeOpts []store.Option, fetchOpts []fetchcache.Option, monitorOpts []connectivity.Option, runnerOpts []delivery.Option, managerOpts []manager.Option, notifyURLs []string, apiOpts []Option) error {
	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	transport := fetchcache.New(st, fetchOpts...)
	monitor := connectivity.New(monitorOpts...)
	runner := delivery.NewRunner(st, append(runnerOpts, delivery.WithAPIGeneration(transport.APIGeneration))...)

	notifier, err := notify.New(notifyURLs)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	mgr := manager.New(st, monitor, notifier, transport,
		append(managerOpts, manager.WithTrigger(runner.TriggerSync))...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sweep generations left over from versions before this one.
	if deleted, err := transport.Activate(ctx); err != nil {
		slog.Warn("Startup cache sweep failed", "error", err)
	} else if deleted > 0 {
		slog.Info("Startup cache sweep removed stale generations", "deleted", deleted)
	}

	go monitor.Start(ctx)
	go func() {
		if err := runner.Run(ctx); err != nil {
			slog.Error("Delivery runner exited with error", "error", err)
		}
	}()

	server := NewServer(mgr, runner, transport, registry, apiOpts...)
	httpServer := &http.Server{
		Addr:    server.addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("SyncGuard API listening", "addr", server.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down SyncGuard API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}
