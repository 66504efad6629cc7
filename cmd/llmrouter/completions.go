package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ferro-labs/llm-router/internal/callers"
	"github.com/ferro-labs/llm-router/internal/logging"
	"github.com/ferro-labs/llm-router/providers"
)

// maxBodyBytes bounds the request body read (10 MiB covers vision payloads).
const maxBodyBytes = 10 << 20

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if !requestIsJSON(r) {
		callers.WriteError(w, http.StatusUnsupportedMediaType, "expected application/json", "invalid_request_error", "")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		callers.WriteError(w, http.StatusBadRequest, "reading request body: "+err.Error(), "invalid_request_error", "")
		return
	}

	var req providers.Request
	if err := json.Unmarshal(body, &req); err != nil {
		callers.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	if err := req.Validate(); err != nil {
		callers.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	collectPassthrough(&req, body)

	if req.Stream {
		s.streamCompletion(w, r, &req)
		return
	}

	resp, err := s.router.Complete(r.Context(), &req)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) streamCompletion(w http.ResponseWriter, r *http.Request, req *providers.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		callers.WriteError(w, http.StatusInternalServerError, "streaming unsupported", "server_error", "")
		return
	}

	sr, err := s.router.Stream(r.Context(), req)
	if err != nil {
		writeRouteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logging.FromContext(r.Context())
	for chunk := range sr.Chunks {
		if chunk.Error != nil {
			// Headers are gone; surface the failure in-band and stop.
			payload, _ := json.Marshal(map[string]any{
				"error": map[string]string{
					"message": chunk.Error.Error(),
					"type":    "server_error",
				},
			})
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
			log.Warn("stream aborted", "channel", sr.Candidate.Channel.ID, "error", chunk.Error)
			return
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
	_, _ = w.Write([]byte("data: " + providers.SSEDone + "\n\n"))
	flusher.Flush()
}

// legacyCompletionRequest is the pre-chat completions shape still used by
// older clients. The prompt becomes a single user message.
type legacyCompletionRequest struct {
	Model       string          `json:"model"`
	Prompt      json.RawMessage `json:"prompt"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	User        string          `json:"user,omitempty"`
}

func (s *server) handleLegacyCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		callers.WriteError(w, http.StatusBadRequest, "reading request body: "+err.Error(), "invalid_request_error", "")
		return
	}
	var legacy legacyCompletionRequest
	if err := json.Unmarshal(body, &legacy); err != nil {
		callers.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	prompt, err := legacyPrompt(legacy.Prompt)
	if err != nil {
		callers.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}

	req := providers.Request{
		Model:       legacy.Model,
		Messages:    []providers.Message{{Role: providers.RoleUser, Content: prompt}},
		MaxTokens:   legacy.MaxTokens,
		Temperature: legacy.Temperature,
		TopP:        legacy.TopP,
		Stop:        legacy.Stop,
		User:        legacy.User,
	}
	if err := req.Validate(); err != nil {
		callers.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	collectPassthrough(&req, body)

	resp, err := s.router.Complete(r.Context(), &req)
	if err != nil {
		writeRouteError(w, err)
		return
	}

	// Re-shape the chat response into the legacy text-completion envelope.
	type legacyChoice struct {
		Text         string `json:"text"`
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
	}
	choices := make([]legacyChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, legacyChoice{
			Text:         c.Message.Content,
			Index:        c.Index,
			FinishReason: c.FinishReason,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      resp.ID,
		"object":  "text_completion",
		"created": resp.Created,
		"model":   resp.Model,
		"choices": choices,
		"usage":   resp.Usage,
	})
}

func legacyPrompt(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("prompt is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", errors.New("prompt must be a string or an array of strings")
	}
	return strings.Join(parts, "\n"), nil
}

// collectPassthrough lifts vendor-prefixed top-level fields (openrouter_*)
// into the request's passthrough map so the matching adapter can forward
// them verbatim.
func collectPassthrough(req *providers.Request, body []byte) {
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		name, ok := strings.CutPrefix(key.String(), "openrouter_")
		if !ok || name == "" {
			return true
		}
		if req.Passthrough == nil {
			req.Passthrough = make(map[string]json.RawMessage)
		}
		req.Passthrough[name] = json.RawMessage(value.Raw)
		return true
	})
}

// writeRouteError maps a routing/dispatch failure to its HTTP surface.
func writeRouteError(w http.ResponseWriter, err error) {
	var re *providers.RouteError
	if errors.As(err, &re) {
		status := re.Kind.HTTPStatus()
		errType := "invalid_request_error"
		if status >= 500 {
			errType = "server_error"
		}
		callers.WriteError(w, status, re.Error(), errType, string(re.Kind))
		return
	}
	callers.WriteError(w, http.StatusInternalServerError, err.Error(), "server_error", "")
}
