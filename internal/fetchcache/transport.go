// Package fetchcache implements the request interception layer: an
// http.RoundTripper that applies network-first caching to API requests and
// cache-first serving to static assets, backed by durable, versioned cache
// generations.
package fetchcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/NiroGuard/SyncGuard/internal/metrics"
	"github.com/NiroGuard/SyncGuard/internal/models"
)

// Constants for the interception layer
const (
	// DefaultAPIPrefix marks request paths handled with the network-first
	// strategy.
	DefaultAPIPrefix = "/api/"
	// DefaultVersion is the cache generation version used when none is
	// configured.
	DefaultVersion = "v1.0.0"
	// generationPrefix is the common name prefix of all cache generations.
	generationPrefix = "syncguard"
)

// CacheStore is the subset of the store the interception layer needs.
type CacheStore interface {
	PutCachedResponse(entry models.CachedResponse) error
	GetCachedResponse(generation, key string) (*models.CachedResponse, error)
	CacheGenerations() ([]string, error)
	DeleteCacheGeneration(generation string) error
	SweepCacheGenerations(current []string) (int, error)
}

// Opts holds configuration options for the transport.
type Opts struct {
	Base      http.RoundTripper
	Version   string
	APIPrefix string
}

// Option defines a configuration option for the transport.
type Option func(*Opts)

// WithBase sets the underlying round tripper used for network fetches.
func WithBase(rt http.RoundTripper) Option {
	return func(o *Opts) {
		o.Base = rt
	}
}

// WithVersion sets the application version that names the cache generations.
func WithVersion(v string) Option {
	return func(o *Opts) {
		o.Version = v
	}
}

// WithAPIPrefix overrides the path prefix classified as API traffic.
func WithAPIPrefix(p string) Option {
	return func(o *Opts) {
		o.APIPrefix = p
	}
}

// Transport intercepts outgoing requests and applies the caching strategy
// matching each request's class. It implements http.RoundTripper.
type Transport struct {
	base      http.RoundTripper
	store     CacheStore
	apiPrefix string

	mu      sync.RWMutex
	version string
}

var _ http.RoundTripper = (*Transport)(nil)

// New creates a transport over the given cache store.
func New(store CacheStore, opts ...Option) *Transport {
	cfg := Opts{
		Base:      http.DefaultTransport,
		Version:   DefaultVersion,
		APIPrefix: DefaultAPIPrefix,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Transport{
		base:      cfg.Base,
		store:     store,
		apiPrefix: cfg.APIPrefix,
		version:   cfg.Version,
	}
}

// Version returns the active cache generation version.
func (t *Transport) Version() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// SetVersion switches the transport to a new generation version. Entries
// written under older versions remain until Activate sweeps them.
func (t *Transport) SetVersion(v string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.version = v
}

// ShellGeneration names the app-shell cache generation for the active version.
func (t *Transport) ShellGeneration() string {
	return fmt.Sprintf("%s-%s", generationPrefix, t.Version())
}

// APIGeneration names the API cache generation for the active version.
func (t *Transport) APIGeneration() string {
	return fmt.Sprintf("%s-api-%s", generationPrefix, t.Version())
}

// StaticGeneration names the static asset cache generation for the active
// version.
func (t *Transport) StaticGeneration() string {
	return fmt.Sprintf("%s-static-%s", generationPrefix, t.Version())
}

// CacheKey builds the lookup key for a request.
func CacheKey(method, url string) string {
	return method + " " + url
}

// RoundTrip applies the caching strategy for the request's class: API paths
// are served network-first, documents and static assets cache-first, and
// everything else passes through to the network uncached.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch {
	case strings.HasPrefix(req.URL.Path, t.apiPrefix):
		return t.networkFirst(req)
	case isStaticRequest(req):
		return t.cacheFirst(req)
	default:
		metrics.RecordCacheRequest("pass_through", "network")
		return t.base.RoundTrip(req)
	}
}

// networkFirst fetches from the network, caching successful GET responses in
// the API generation. A network error or a non-success response falls back to
// the cached copy when one exists; otherwise an offline response is
// synthesized. Failures never propagate as errors to the caller.
func (t *Transport) networkFirst(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil && isCacheable(resp) {
		if req.Method == http.MethodGet {
			resp = t.cacheResponse(t.APIGeneration(), req, resp)
		}
		metrics.RecordCacheRequest("network_first", "network")
		return resp, nil
	}
	if err != nil {
		slog.Debug("Transport.networkFirst network fetch failed", "error", err, "url", req.URL.String())
	} else {
		slog.Debug("Transport.networkFirst non-success response", "status", resp.StatusCode, "url", req.URL.String())
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	if req.Method == http.MethodGet {
		entry, lookupErr := t.store.GetCachedResponse(t.APIGeneration(), CacheKey(req.Method, req.URL.String()))
		if lookupErr != nil {
			slog.Error("Transport.networkFirst cache lookup failed", "error", lookupErr, "url", req.URL.String())
		}
		if entry != nil {
			metrics.RecordCacheRequest("network_first", "cache_hit")
			return responseFromEntry(entry, req), nil
		}
	}
	metrics.RecordCacheRequest("network_first", "offline_fallback")
	return offlineResponse(req), nil
}

// cacheFirst serves GETs from the static generation when possible, falling
// back to the network and caching what it fetches. A failed network fetch for
// a document request falls back to the cached app shell.
func (t *Transport) cacheFirst(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet {
		entry, err := t.store.GetCachedResponse(t.StaticGeneration(), CacheKey(req.Method, req.URL.String()))
		if err != nil {
			slog.Error("Transport.cacheFirst cache lookup failed", "error", err, "url", req.URL.String())
		}
		if entry != nil {
			metrics.RecordCacheRequest("cache_first", "cache_hit")
			return responseFromEntry(entry, req), nil
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err == nil {
		if req.Method == http.MethodGet && isCacheable(resp) {
			resp = t.cacheResponse(t.StaticGeneration(), req, resp)
		}
		metrics.RecordCacheRequest("cache_first", "network")
		return resp, nil
	}
	slog.Debug("Transport.cacheFirst network fetch failed", "error", err, "url", req.URL.String())

	if isDocumentRequest(req) {
		if shell := t.lookupShell(req); shell != nil {
			metrics.RecordCacheRequest("cache_first", "shell_fallback")
			return shell, nil
		}
		metrics.RecordCacheRequest("cache_first", "offline_fallback")
		return offlineResponse(req), nil
	}
	metrics.RecordCacheRequest("cache_first", "network_error")
	return nil, err
}

// lookupShell returns the cached app shell for the request's origin, checking
// the shell generation first and the static generation second.
func (t *Transport) lookupShell(req *http.Request) *http.Response {
	root := *req.URL
	root.Path = "/"
	root.RawQuery = ""
	key := CacheKey(http.MethodGet, root.String())
	for _, generation := range []string{t.ShellGeneration(), t.StaticGeneration()} {
		entry, err := t.store.GetCachedResponse(generation, key)
		if err != nil {
			slog.Error("Transport.lookupShell cache lookup failed", "error", err, "generation", generation)
			continue
		}
		if entry != nil {
			return responseFromEntry(entry, req)
		}
	}
	return nil
}

// cacheResponse stores the response body under the generation and returns a
// response whose body can still be read by the caller.
func (t *Transport) cacheResponse(generation string, req *http.Request, resp *http.Response) *http.Response {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		slog.Error("Transport.cacheResponse body read failed", "error", err, "url", req.URL.String())
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return resp
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := models.CachedResponse{
		Generation: generation,
		Key:        CacheKey(req.Method, req.URL.String()),
		Status:     resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}
	if err := t.store.PutCachedResponse(entry); err != nil {
		// A cache write failure degrades offline coverage but must not
		// break the live response.
		slog.Error("Transport.cacheResponse store put failed", "error", err, "key", entry.Key)
	}
	return resp
}

// PrecacheURLs fetches the given URLs over the network and stores them in the
// shell generation. Individual fetch failures are logged and skipped.
func (t *Transport) PrecacheURLs(ctx context.Context, urls []string) error {
	var failed int
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("failed to build precache request for %s: %w", u, err)
		}
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			slog.Warn("Transport.PrecacheURLs fetch failed", "error", err, "url", u)
			failed++
			continue
		}
		if !isCacheable(resp) {
			resp.Body.Close()
			slog.Warn("Transport.PrecacheURLs skipping non-OK response", "url", u, "status", resp.StatusCode)
			failed++
			continue
		}
		cached := t.cacheResponse(t.ShellGeneration(), req, resp)
		cached.Body.Close()
	}
	slog.Info("Transport.PrecacheURLs completed", "requested", len(urls), "failed", failed)
	return nil
}

// Activate sweeps away every cache generation not belonging to the active
// version and returns the number of generations removed.
func (t *Transport) Activate(ctx context.Context) (int, error) {
	current := []string{t.ShellGeneration(), t.APIGeneration(), t.StaticGeneration()}
	deleted, err := t.store.SweepCacheGenerations(current)
	if err != nil {
		slog.Error("Transport.Activate sweep failed", "error", err)
		return deleted, fmt.Errorf("failed to sweep cache generations: %w", err)
	}
	slog.Info("Transport.Activate swept stale generations", "version", t.Version(), "deleted", deleted)
	return deleted, nil
}

// ClearAll deletes every cache generation, current ones included.
func (t *Transport) ClearAll() (int, error) {
	generations, err := t.store.CacheGenerations()
	if err != nil {
		return 0, err
	}
	for i, g := range generations {
		if err := t.store.DeleteCacheGeneration(g); err != nil {
			return i, err
		}
	}
	slog.Info("Transport.ClearAll cleared cache", "generations", len(generations))
	return len(generations), nil
}

// isCacheable reports whether a network response should be written to cache.
func isCacheable(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// staticExtensions lists asset suffixes classified as static when the client
// does not declare a fetch destination.
var staticExtensions = map[string]bool{
	".html": true, ".js": true, ".css": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".ico": true, ".webp": true,
	".woff": true, ".woff2": true, ".json": true,
}

// isStaticRequest reports whether the request targets a document or static
// asset and should be served cache-first.
func isStaticRequest(req *http.Request) bool {
	switch req.Header.Get("Sec-Fetch-Dest") {
	case "document", "script", "style", "image":
		return true
	case "":
		// No declared destination; classify by request shape.
	default:
		return false
	}
	if isDocumentRequest(req) {
		return true
	}
	p := req.URL.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return true
	}
	return staticExtensions[strings.ToLower(path.Ext(p))]
}

// isDocumentRequest reports whether the request navigates to a page rather
// than fetching an asset.
func isDocumentRequest(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// responseFromEntry rebuilds an http.Response from a cached entry.
func responseFromEntry(entry *models.CachedResponse, req *http.Request) *http.Response {
	headers := entry.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return &http.Response{
		StatusCode:    entry.Status,
		Status:        http.StatusText(entry.Status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}

// offlineResponse synthesizes the 503 returned when neither the network nor
// the cache can satisfy a request.
func offlineResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(models.OfflineResponse{
		Error:   "Offline",
		Message: "This feature requires internet connection",
		Cached:  false,
	})
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode:    http.StatusServiceUnavailable,
		Status:        http.StatusText(http.StatusServiceUnavailable),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
