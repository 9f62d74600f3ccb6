package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/NiroGuard/SyncGuard/internal/models"
	"github.com/NiroGuard/SyncGuard/internal/store"
)

// recordingServer collects delivered requests for inspection.
type recordingServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	reject   func(r *http.Request, body string) bool
}

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

func (rs *recordingServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.requests = append(rs.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		rs.mu.Unlock()
		if rs.reject != nil && rs.reject(r, string(body)) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (rs *recordingServer) recorded() []recordedRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]recordedRequest, len(rs.requests))
	copy(out, rs.requests)
	return out
}

func TestSyncAllDeliversAndRemoves(t *testing.T) {
	rs := &recordingServer{}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	s := store.NewInMemoryStore()
	if _, err := s.AddRecord(models.CategoryHealthReport, json.RawMessage(`{"symptom":"fever"}`)); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	if _, err := s.AddRecord(models.CategoryWaterQuality, json.RawMessage(`{"ph":6.8}`)); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	if _, err := s.AddRecord(models.CategoryCaseUpdate, json.RawMessage(`{"caseId":"c42","data":{"status":"resolved"}}`)); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}

	r := NewRunner(s, WithBaseURL(srv.URL))
	r.SyncAll(context.Background())

	for _, category := range models.Categories() {
		n, err := s.CountRecords(category)
		if err != nil {
			t.Fatalf("CountRecords failed: %v", err)
		}
		if n != 0 {
			t.Errorf("category %s still has %d records after drain", category, n)
		}
	}

	byPath := map[string]recordedRequest{}
	for _, req := range rs.recorded() {
		byPath[req.Path] = req
	}
	if req := byPath["/api/health-reports"]; req.Method != http.MethodPost || req.Body != `{"symptom":"fever"}` {
		t.Errorf("health report delivery = %+v", req)
	}
	if req := byPath["/api/water-quality"]; req.Method != http.MethodPost {
		t.Errorf("water quality delivery = %+v", req)
	}
	if req := byPath["/api/cases/c42"]; req.Method != http.MethodPut || req.Body != `{"status":"resolved"}` {
		t.Errorf("case update delivery = %+v", req)
	}
}

func TestSyncAllNoDoubleDelivery(t *testing.T) {
	rs := &recordingServer{}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	s := store.NewInMemoryStore()
	if _, err := s.AddRecord(models.CategoryHealthReport, json.RawMessage(`{"symptom":"rash"}`)); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}

	r := NewRunner(s, WithBaseURL(srv.URL))
	r.SyncAll(context.Background())
	r.SyncAll(context.Background())

	if got := len(rs.recorded()); got != 1 {
		t.Errorf("record delivered %d times, want exactly once", got)
	}
}

func TestSyncAllRetainsFailedRecord(t *testing.T) {
	rs := &recordingServer{reject: func(r *http.Request, body string) bool {
		return strings.Contains(body, "poison")
	}}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	s := store.NewInMemoryStore()
	okID, err := s.AddRecord(models.CategoryHealthReport, json.RawMessage(`{"symptom":"fever"}`))
	if err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	badID, err := s.AddRecord(models.CategoryHealthReport, json.RawMessage(`{"symptom":"poison"}`))
	if err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	tailID, err := s.AddRecord(models.CategoryHealthReport, json.RawMessage(`{"symptom":"cough"}`))
	if err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}

	r := NewRunner(s, WithBaseURL(srv.URL))
	r.SyncAll(context.Background())

	// The failing record stays; the ones around it were delivered.
	records, err := s.ListRecords(models.CategoryHealthReport)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected only the failed record to remain, got %d", len(records))
	}
	if records[0].ID != badID {
		t.Errorf("remaining record = %s, want %s (ok=%s tail=%s)", records[0].ID, badID, okID, tailID)
	}
	if records[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", records[0].RetryCount)
	}
	if records[0].LastError == "" {
		t.Error("LastError not recorded")
	}

	// A second drain retries the survivor with its payload untouched.
	r.SyncAll(context.Background())
	records, err = s.ListRecords(models.CategoryHealthReport)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 1 || records[0].RetryCount != 2 {
		t.Errorf("second drain: records=%d retryCount=%d, want 1 record at 2 retries", len(records), records[0].RetryCount)
	}
	if string(records[0].Payload) != `{"symptom":"poison"}` {
		t.Errorf("payload mutated across retries: %s", records[0].Payload)
	}
}

func TestSyncAllServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable from the start

	s := store.NewInMemoryStore()
	if _, err := s.AddRecord(models.CategoryWaterQuality, json.RawMessage(`{"ph":5.5}`)); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}

	r := NewRunner(s, WithBaseURL(srv.URL))
	r.SyncAll(context.Background())

	n, err := s.CountRecords(models.CategoryWaterQuality)
	if err != nil {
		t.Fatalf("CountRecords failed: %v", err)
	}
	if n != 1 {
		t.Errorf("record count = %d after unreachable drain, want 1", n)
	}
}

func TestEndpointFor(t *testing.T) {
	tests := []struct {
		name       string
		category   models.Category
		payload    string
		wantMethod string
		wantPath   string
		wantBody   string
		wantErr    error
	}{
		{
			name:       "health report",
			category:   models.CategoryHealthReport,
			payload:    `{"symptom":"fever"}`,
			wantMethod: http.MethodPost,
			wantPath:   "/api/health-reports",
			wantBody:   `{"symptom":"fever"}`,
		},
		{
			name:       "water quality",
			category:   models.CategoryWaterQuality,
			payload:    `{"ph":7}`,
			wantMethod: http.MethodPost,
			wantPath:   "/api/water-quality",
			wantBody:   `{"ph":7}`,
		},
		{
			name:       "case update unwraps data",
			category:   models.CategoryCaseUpdate,
			payload:    `{"caseId":"c9","data":{"status":"open"}}`,
			wantMethod: http.MethodPut,
			wantPath:   "/api/cases/c9",
			wantBody:   `{"status":"open"}`,
		},
		{
			name:     "case update missing caseId",
			category: models.CategoryCaseUpdate,
			payload:  `{"data":{"status":"open"}}`,
			wantErr:  models.ErrInvalidPayload,
		},
		{
			name:     "unknown category",
			category: models.Category("bogus"),
			payload:  `{}`,
			wantErr:  models.ErrInvalidCategory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, path, body, err := EndpointFor(tt.category, json.RawMessage(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("EndpointFor failed: %v", err)
			}
			if method != tt.wantMethod || path != tt.wantPath {
				t.Errorf("got %s %s, want %s %s", method, path, tt.wantMethod, tt.wantPath)
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %s, want %s", body, tt.wantBody)
			}
		})
	}
}

func TestRefreshCriticalAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/critical-alerts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"alerts":[{"id":7}]}`))
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	generation := "syncguard-api-v1.0.0"
	r := NewRunner(s, WithBaseURL(srv.URL), WithAPIGeneration(func() string { return generation }))

	if err := r.RefreshCriticalAlerts(context.Background()); err != nil {
		t.Fatalf("RefreshCriticalAlerts failed: %v", err)
	}

	alerts, err := r.CriticalAlerts(context.Background())
	if err != nil {
		t.Fatalf("CriticalAlerts failed: %v", err)
	}
	if string(alerts) != `{"alerts":[{"id":7}]}` {
		t.Errorf("alerts = %s", alerts)
	}

	entry, err := s.GetCachedResponse(generation, "GET "+srv.URL+"/api/critical-alerts")
	if err != nil {
		t.Fatalf("GetCachedResponse failed: %v", err)
	}
	if entry == nil {
		t.Fatal("refreshed alerts not written to durable cache")
	}
	if string(entry.Body) != `{"alerts":[{"id":7}]}` {
		t.Errorf("durable alerts body = %s", entry.Body)
	}
}

func TestCriticalAlertsFallsBackToDurableCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // offline

	s := store.NewInMemoryStore()
	generation := "syncguard-api-v1.0.0"
	err := s.PutCachedResponse(models.CachedResponse{
		Generation: generation,
		Key:        "GET " + srv.URL + "/api/critical-alerts",
		Status:     http.StatusOK,
		Body:       []byte(`{"alerts":[]}`),
	})
	if err != nil {
		t.Fatalf("PutCachedResponse failed: %v", err)
	}

	r := NewRunner(s, WithBaseURL(srv.URL), WithAPIGeneration(func() string { return generation }))
	alerts, err := r.CriticalAlerts(context.Background())
	if err != nil {
		t.Fatalf("CriticalAlerts failed: %v", err)
	}
	if string(alerts) != `{"alerts":[]}` {
		t.Errorf("alerts = %s, want durable cached body", alerts)
	}
}

func TestTriggerSyncCoalesces(t *testing.T) {
	r := NewRunner(store.NewInMemoryStore())
	// Repeated triggers while none is consumed must never block.
	for i := 0; i < 10; i++ {
		r.TriggerSync()
	}
	select {
	case <-r.trigger:
	default:
		t.Fatal("no trigger pending after TriggerSync")
	}
	select {
	case <-r.trigger:
		t.Fatal("triggers were not coalesced")
	default:
	}
}
