package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	llmrouter "github.com/ferro-labs/llm-router"
	"github.com/ferro-labs/llm-router/internal/callers"
	"github.com/ferro-labs/llm-router/providers"
)

func newTestHandler(t *testing.T, upstream string, keyStore callers.Store, mut func(*llmrouter.Config)) http.Handler {
	t.Helper()
	cfg := &llmrouter.Config{
		Providers: []providers.Provider{{
			Name:     "fake",
			BaseURLs: []string{upstream},
			Auth:     providers.AuthBearer,
			Adapter:  providers.KindOpenAI,
		}},
		Channels: []providers.Channel{{
			ID:        "ch-1",
			Provider:  "fake",
			ModelName: "llama-3-8b",
			APIKey:    "sk-test",
			Enabled:   true,
		}},
	}
	if mut != nil {
		mut(cfg)
	}
	router, err := llmrouter.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return newHandler(router, cfg, keyStore)
}

func upstreamOK(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cmpl-1","model":"llama-3-8b","choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const chatBody = `{"model":"llama-3-8b","messages":[{"role":"user","content":"ping"}]}`

func TestChatCompletionsHandler(t *testing.T) {
	h := newTestHandler(t, upstreamOK(t).URL, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp providers.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Choices[0].Message.Content != "pong" || resp.Channel != "ch-1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestChatCompletionsBadJSON(t *testing.T) {
	h := newTestHandler(t, upstreamOK(t).URL, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{nope"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestChatCompletionsUnknownModel(t *testing.T) {
	h := newTestHandler(t, upstreamOK(t).URL, nil, nil)

	body := `{"model":"no-such-model","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "no_candidates") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStreamingHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"id\":\"s1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"po\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"id\":\"s1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ng\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	h := newTestHandler(t, srv.URL, nil, nil)

	body := `{"model":"llama-3-8b","messages":[{"role":"user","content":"ping"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `"content":"po"`) || !strings.Contains(out, "data: [DONE]") {
		t.Errorf("stream body = %s", out)
	}
}

func TestLegacyCompletionsShim(t *testing.T) {
	h := newTestHandler(t, upstreamOK(t).URL, nil, nil)

	body := `{"model":"llama-3-8b","prompt":"ping","max_tokens":8}`
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Object  string `json:"object"`
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "text_completion" || len(resp.Choices) != 1 || resp.Choices[0].Text != "pong" {
		t.Errorf("response = %+v", resp)
	}
}

func TestModelsHandler(t *testing.T) {
	h := newTestHandler(t, upstreamOK(t).URL, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "llama-3-8b") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"tag:llama"`) {
		t.Errorf("virtual tag ids missing: %s", rec.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	h := newTestHandler(t, upstreamOK(t).URL, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuthRequiredWhenKeyStoreConfigured(t *testing.T) {
	store := callers.NewMemoryStore()
	adminKey, _ := store.Create("admin", []string{callers.ScopeRoute, callers.ScopeAdmin}, nil)
	routeKey, _ := store.Create("caller", []string{callers.ScopeRoute}, nil)
	h := newTestHandler(t, upstreamOK(t).URL, store, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+routeKey.Secret)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Route-scoped keys cannot touch the admin surface.
	req = httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	req.Header.Set("Authorization", "Bearer "+routeKey.Secret)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("admin with route key status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	req.Header.Set("Authorization", "Bearer "+adminKey.Secret)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin with admin key status = %d", rec.Code)
	}
}

func TestChannelToggle(t *testing.T) {
	store := callers.NewMemoryStore()
	adminKey, _ := store.Create("admin", []string{callers.ScopeAdmin}, nil)
	h := newTestHandler(t, upstreamOK(t).URL, store, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/channels/ch-1/disable", nil)
	req.Header.Set("Authorization", "Bearer "+adminKey.Secret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/channels/nope/disable", nil)
	req.Header.Set("Authorization", "Bearer "+adminKey.Secret)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown channel status = %d", rec.Code)
	}
}

func TestRateLimitRejects(t *testing.T) {
	h := newTestHandler(t, upstreamOK(t).URL, nil, func(cfg *llmrouter.Config) {
		cfg.Server.RateLimit = llmrouter.RateLimitConfig{PerSecond: 0.001, Burst: 1}
	})

	first := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
	first.Header.Set("Content-Type", "application/json")
	first.RemoteAddr = "10.1.1.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
	second.Header.Set("Content-Type", "application/json")
	second.RemoteAddr = "10.1.1.1:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d", rec.Code)
	}
}

func TestCollectPassthrough(t *testing.T) {
	body := []byte(`{"model":"m","openrouter_provider":{"order":["deepinfra"]},"openrouter_transforms":["middle-out"],"other":1}`)
	var req providers.Request
	collectPassthrough(&req, body)
	if len(req.Passthrough) != 2 {
		t.Fatalf("passthrough = %v", req.Passthrough)
	}
	if string(req.Passthrough["provider"]) != `{"order":["deepinfra"]}` {
		t.Errorf("provider = %s", req.Passthrough["provider"])
	}
	if _, ok := req.Passthrough["other"]; ok {
		t.Error("unprefixed fields must not pass through")
	}
}

func TestValidateCommand(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
}
