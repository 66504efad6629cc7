package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ferro-labs/llm-router/internal/callers"
)

func (s *server) handleListKeys(w http.ResponseWriter, _ *http.Request) {
	if s.keys == nil {
		callers.WriteError(w, http.StatusNotFound, "key store disabled", "invalid_request_error", "")
		return
	}
	list, err := s.keys.List()
	if err != nil {
		callers.WriteError(w, http.StatusInternalServerError, err.Error(), "server_error", "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": list})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		callers.WriteError(w, http.StatusNotFound, "key store disabled", "invalid_request_error", "")
		return
	}
	var body struct {
		Name      string     `json:"name"`
		Scopes    []string   `json:"scopes"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		callers.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	if len(body.Scopes) == 0 {
		body.Scopes = []string{callers.ScopeRoute}
	}
	key, err := s.keys.Create(body.Name, body.Scopes, body.ExpiresAt)
	if err != nil {
		callers.WriteError(w, http.StatusInternalServerError, err.Error(), "server_error", "")
		return
	}
	// The full secret is shown exactly once, at creation.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(key)
}

func (s *server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		callers.WriteError(w, http.StatusNotFound, "key store disabled", "invalid_request_error", "")
		return
	}
	if err := s.keys.Revoke(chi.URLParam(r, "id")); err != nil {
		callers.WriteError(w, http.StatusNotFound, err.Error(), "not_found_error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetChannel(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !s.router.SetChannelEnabled(id, enabled) {
			callers.WriteError(w, http.StatusNotFound, "unknown channel "+id, "not_found_error", "")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"channel": id, "enabled": enabled})
	}
}

func (s *server) handleKickTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// The task must outlive this request.
	if !s.router.Scheduler().Kick(context.Background(), name) {
		callers.WriteError(w, http.StatusNotFound, "unknown or already running task "+name, "not_found_error", "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
