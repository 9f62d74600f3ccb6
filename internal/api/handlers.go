// Package api provides HTTP handlers for SyncGuard endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/NiroGuard/SyncGuard/internal/models"
)

// clientMessage is the envelope accepted by the messages endpoint, mirroring
// the message types the web client sends.
type clientMessage struct {
	Type    string   `json:"type"`
	Version string   `json:"version,omitempty"`
	URLs    []string `json:"urls,omitempty"`
}

// Client message types
const (
	MessageStageUpdate    = "STAGE_UPDATE"
	MessageActivateUpdate = "ACTIVATE_UPDATE"
	MessageCacheURLs      = "CACHE_URLS"
	MessageClearCache     = "CLEAR_CACHE"
)

func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.submitHandler: processing submit request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.submitHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.submitHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.submitHandler: validation failed", "error", err, "category", req.Category)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.manager.Submit(r.Context(), req)
	if err != nil {
		slog.Error("Server.submitHandler: submit failed", "error", err, "category", req.Category)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store submission"))
		return
	}
	if result.Queued {
		slog.Info("Server.submitHandler: submission queued", "id", result.RecordID, "category", req.Category)
		writeJSONResponse(w, http.StatusAccepted, models.Queued(result))
		return
	}
	slog.Info("Server.submitHandler: submission delivered", "category", req.Category)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Submission delivered", result))
}

func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	category := models.Category(r.URL.Query().Get("category"))
	if category == "" {
		depths, err := s.manager.QueueDepths()
		if err != nil {
			slog.Error("Server.queueHandler: depth query failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read queue"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(depths))
		return
	}

	records, err := s.manager.QueuedRecords(category)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCategory) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.queueHandler: list failed", "error", err, "category", category)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read queue"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// statusPayload is the body of the status endpoint.
type statusPayload struct {
	Network       models.NetworkStatus    `json:"network"`
	Queue         map[models.Category]int `json:"queue"`
	Version       string                  `json:"version"`
	PendingUpdate string                  `json:"pending_update,omitempty"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	depths, err := s.manager.QueueDepths()
	if err != nil {
		slog.Error("Server.statusHandler: depth query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read queue"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(statusPayload{
		Network:       s.manager.NetworkStatus(),
		Queue:         depths,
		Version:       s.transport.Version(),
		PendingUpdate: s.manager.PendingUpdate(),
	}))
}

func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.runner.TriggerSync()
	slog.Info("Server.syncHandler: manual sync triggered")
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Sync triggered", nil))
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var msg clientMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Warn("Server.messagesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	slog.Debug("Server.messagesHandler: processing client message", "type", msg.Type)

	switch msg.Type {
	case MessageStageUpdate:
		if err := s.manager.StageUpdate(msg.Version); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Update staged", map[string]string{"version": msg.Version}))

	case MessageActivateUpdate:
		version, err := s.manager.ApplyPendingUpdate(r.Context())
		if err != nil {
			if errors.Is(err, models.ErrNoPendingUpdate) {
				writeJSONResponse(w, http.StatusConflict, models.Error("No update is pending"))
				return
			}
			slog.Error("Server.messagesHandler: update activation failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to activate update"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Update activated", map[string]string{"version": version}))

	case MessageCacheURLs:
		if len(msg.URLs) == 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("No URLs to cache"))
			return
		}
		if err := s.manager.PreloadCriticalData(r.Context(), msg.URLs); err != nil {
			slog.Error("Server.messagesHandler: precache failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to cache URLs"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("URLs cached", nil))

	case MessageClearCache:
		cleared, err := s.transport.ClearAll()
		if err != nil {
			slog.Error("Server.messagesHandler: cache clear failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clear cache"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Cache cleared", map[string]int{"generations": cleared}))

	default:
		slog.Warn("Server.messagesHandler: unknown message type", "type", msg.Type)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown message type"))
	}
}

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload models.NotificationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.notificationsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := payload.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.manager.Notify(payload); err != nil {
		slog.Error("Server.notificationsHandler: delivery failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send notification"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Notification sent", nil))
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	alerts, err := s.runner.CriticalAlerts(r.Context())
	if err != nil || alerts == nil {
		slog.Warn("Server.alertsHandler: no alerts available", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Critical alerts unavailable"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(alerts); err != nil {
		slog.Error("Server.alertsHandler: failed to write response", "error", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "syncguard"}))
}

// proxyHandler forwards client requests to the upstream server through the
// interception transport: API paths get network-first caching, static assets
// cache-first serving, and failures the synthesized offline response.
func (s *Server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	if s.serverURL == "" {
		writeJSONResponse(w, http.StatusBadGateway, models.Error("No upstream server configured"))
		return
	}
	target := strings.TrimPrefix(r.URL.Path, "/proxy")
	if target == "" {
		target = "/"
	}
	upstreamURL := s.serverURL + target
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		slog.Warn("Server.proxyHandler: failed to build upstream request", "error", err, "url", upstreamURL)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid proxy request"))
		return
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.proxy.Do(req)
	if err != nil {
		slog.Error("Server.proxyHandler: upstream fetch failed", "error", err, "url", upstreamURL)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Upstream fetch failed"))
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Error("Server.proxyHandler: failed to write response", "error", err)
	}
}
