package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NiroGuard/SyncGuard/internal/connectivity"
	"github.com/NiroGuard/SyncGuard/internal/delivery"
	"github.com/NiroGuard/SyncGuard/internal/fetchcache"
	"github.com/NiroGuard/SyncGuard/internal/manager"
	"github.com/NiroGuard/SyncGuard/internal/models"
	"github.com/NiroGuard/SyncGuard/internal/notify"
	"github.com/NiroGuard/SyncGuard/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// newTestServer builds a server over an in-memory store with the monitor
// reporting offline, so submissions queue deterministically.
func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	transport := fetchcache.New(st)
	monitor := connectivity.New(connectivity.WithInitialOnline(false))
	runner := delivery.NewRunner(st, delivery.WithAPIGeneration(transport.APIGeneration))
	notifier, err := notify.New(nil)
	if err != nil {
		t.Fatalf("notify.New failed: %v", err)
	}
	mgr := manager.New(st, monitor, notifier, transport, manager.WithTrigger(runner.TriggerSync))

	registry := prometheus.NewRegistry()
	return NewServer(mgr, runner, transport, registry), st
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func TestSubmitHandlerQueuesOffline(t *testing.T) {
	s, st := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/submit",
		`{"category":"health-report","payload":{"symptom":"fever"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeAPIResponse(t, rec)
	if resp.Status != string(models.APIStatusQueued) {
		t.Errorf("response status = %q, want queued", resp.Status)
	}

	n, err := st.CountRecords(models.CategoryHealthReport)
	if err != nil {
		t.Fatalf("CountRecords failed: %v", err)
	}
	if n != 1 {
		t.Errorf("queued records = %d, want 1", n)
	}
}

func TestSubmitHandlerRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"category":`},
		{"invalid category", `{"category":"bogus","payload":{}}`},
		{"missing payload", `{"category":"health-report"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/submit", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	rec := doRequest(t, s, http.MethodGet, "/submit", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /submit status = %d, want 405", rec.Code)
	}
}

func TestQueueHandler(t *testing.T) {
	s, st := newTestServer(t)
	if _, err := st.AddRecord(models.CategoryWaterQuality, json.RawMessage(`{"ph":7}`)); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/queue?category=water-quality", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status string                `json:"status"`
		Result []models.QueuedRecord `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if len(resp.Result) != 1 || resp.Result[0].Category != models.CategoryWaterQuality {
		t.Errorf("result = %+v", resp.Result)
	}

	rec = doRequest(t, s, http.MethodGet, "/queue", "")
	if rec.Code != http.StatusOK {
		t.Errorf("depths status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/queue?category=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad category status = %d, want 400", rec.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status string        `json:"status"`
		Result statusPayload `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if resp.Result.Network.IsOnline {
		t.Error("status reports online for an offline monitor")
	}
	if resp.Result.Version != fetchcache.DefaultVersion {
		t.Errorf("version = %q, want %q", resp.Result.Version, fetchcache.DefaultVersion)
	}
}

func TestSyncHandler(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/sync", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, "/sync", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /sync status = %d, want 405", rec.Code)
	}
}

func TestMessagesHandlerUpdateLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	// Activating with nothing staged conflicts.
	rec := doRequest(t, s, http.MethodPost, "/messages", `{"type":"ACTIVATE_UPDATE"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/messages", `{"type":"STAGE_UPDATE","version":"v2.0.0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stage status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/messages", `{"type":"ACTIVATE_UPDATE"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := s.transport.Version(); got != "v2.0.0" {
		t.Errorf("transport version = %q, want v2.0.0", got)
	}
}

func TestMessagesHandlerClearCacheAndUnknown(t *testing.T) {
	s, st := newTestServer(t)
	err := st.PutCachedResponse(models.CachedResponse{
		Generation: s.transport.StaticGeneration(),
		Key:        "GET https://app.example/app.js",
		Status:     http.StatusOK,
		Body:       []byte("ok"),
	})
	if err != nil {
		t.Fatalf("PutCachedResponse failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/messages", `{"type":"CLEAR_CACHE"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("clear status = %d", rec.Code)
	}
	generations, err := st.CacheGenerations()
	if err != nil {
		t.Fatalf("CacheGenerations failed: %v", err)
	}
	if len(generations) != 0 {
		t.Errorf("cache not cleared: %v", generations)
	}

	rec = doRequest(t, s, http.MethodPost, "/messages", `{"type":"SKIP_WAITING"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", rec.Code)
	}
}

func TestNotificationsHandler(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/notifications",
		`{"title":"Critical alert","body":"Cholera outbreak reported nearby","tag":"critical-alert"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/notifications", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty payload status = %d, want 400", rec.Code)
	}
}

func TestAlertsHandlerUnavailable(t *testing.T) {
	// No upstream configured and nothing cached: alerts are unavailable.
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/alerts", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

var errNetworkUnreachable = errors.New("network unreachable")

// scriptedTransport lets proxy tests control upstream behavior.
type scriptedTransport struct {
	fn func(r *http.Request) (*http.Response, error)
}

func (s *scriptedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return s.fn(r)
}

func newProxyTestServer(t *testing.T, base http.RoundTripper) *Server {
	t.Helper()
	st := store.NewInMemoryStore()
	transport := fetchcache.New(st, fetchcache.WithBase(base))
	monitor := connectivity.New(connectivity.WithInitialOnline(false))
	runner := delivery.NewRunner(st)
	notifier, err := notify.New(nil)
	if err != nil {
		t.Fatalf("notify.New failed: %v", err)
	}
	mgr := manager.New(st, monitor, notifier, transport)
	return NewServer(mgr, runner, transport, prometheus.NewRegistry(),
		WithServerURL("https://app.example"))
}

func TestProxyHandlerOfflineAPIRequest(t *testing.T) {
	s := newProxyTestServer(t, &scriptedTransport{fn: func(r *http.Request) (*http.Response, error) {
		return nil, errNetworkUnreachable
	}})

	rec := doRequest(t, s, http.MethodGet, "/proxy/api/critical-alerts", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var offline models.OfflineResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &offline); err != nil {
		t.Fatalf("decoding offline body failed: %v", err)
	}
	if offline.Error != "Offline" {
		t.Errorf("offline body = %+v", offline)
	}
}

func TestProxyHandlerServesCachedStatic(t *testing.T) {
	online := true
	s := newProxyTestServer(t, &scriptedTransport{fn: func(r *http.Request) (*http.Response, error) {
		if !online {
			return nil, errNetworkUnreachable
		}
		h := http.Header{}
		h.Set("Content-Type", "application/javascript")
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     h,
			Body:       io.NopCloser(strings.NewReader(`console.log("app")`)),
		}, nil
	}})

	rec := doRequest(t, s, http.MethodGet, "/proxy/app.js", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("online status = %d, want 200", rec.Code)
	}

	online = false
	rec = doRequest(t, s, http.MethodGet, "/proxy/app.js", "")
	if rec.Code != http.StatusOK {
		t.Errorf("offline status = %d, want 200 from cache", rec.Code)
	}
	if rec.Body.String() != `console.log("app")` {
		t.Errorf("offline body = %s, want cached asset", rec.Body.String())
	}
}

func TestProxyHandlerNoUpstream(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/proxy/api/anything", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 without upstream", rec.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
