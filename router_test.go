package llmrouter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ferro-labs/llm-router/internal/scoring"
	"github.com/ferro-labs/llm-router/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRouter(t *testing.T, upstream string) *Router {
	t.Helper()
	cfg := &Config{
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
	r, err := New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func chatRequest(model string) *providers.Request {
	return &providers.Request{
		Model:    model,
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hello"}},
	}
}

func fakeUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func completionBody(model, content string) string {
	return `{"id":"cmpl-1","model":"` + model + `","choices":[{"index":0,"message":{"role":"assistant","content":"` + content + `"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`
}

func TestRouteDeclaredModelAndCacheHit(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	r := testRouter(t, srv.URL)

	res, err := r.Route(context.Background(), chatRequest("llama-3-8b"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Channel.ID != "ch-1" {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if res.FromCache {
		t.Error("first route must miss the cache")
	}
	if len(res.Scores) != 1 {
		t.Errorf("scores = %+v", res.Scores)
	}

	res2, err := r.Route(context.Background(), chatRequest("llama-3-8b"))
	if err != nil {
		t.Fatal(err)
	}
	if !res2.FromCache {
		t.Error("second identical route must hit the cache")
	}
	if res2.Fingerprint != res.Fingerprint {
		t.Error("fingerprints must match for identical requests")
	}
}

func TestDisableChannelInvalidatesCache(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	r := testRouter(t, srv.URL)

	if _, err := r.Route(context.Background(), chatRequest("llama-3-8b")); err != nil {
		t.Fatal(err)
	}
	if !r.SetChannelEnabled("ch-1", false) {
		t.Fatal("channel not found")
	}
	_, err := r.Route(context.Background(), chatRequest("llama-3-8b"))
	if providers.KindOf(err) != providers.KindNoCandidates {
		t.Errorf("kind = %v, err = %v", providers.KindOf(err), err)
	}

	if !r.SetChannelEnabled("ch-1", true) {
		t.Fatal("channel not found")
	}
	res, err := r.Route(context.Background(), chatRequest("llama-3-8b"))
	if err != nil {
		t.Fatal(err)
	}
	if res.FromCache {
		t.Error("route after re-enable must be computed fresh")
	}
}

func TestRouteConfigAlias(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	cfg := &Config{
		Providers: []providers.Provider{{
			Name:     "fake",
			BaseURLs: []string{srv.URL},
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
		Routing: RoutingConfig{ModelAliases: map[string]string{"default": "llama-3-8b"}},
	}
	r, err := New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.Route(context.Background(), chatRequest("default"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Model != "llama-3-8b" {
		t.Fatalf("candidates = %+v", res.Candidates)
	}

	// The canonical spelling shares the aliased request's cache entry.
	res2, err := r.Route(context.Background(), chatRequest("llama-3-8b"))
	if err != nil {
		t.Fatal(err)
	}
	if !res2.FromCache {
		t.Error("canonical model must hit the alias's cache entry")
	}
}

func TestRouteBadStrategy(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	r := testRouter(t, srv.URL)

	req := chatRequest("llama-3-8b")
	req.RoutingStrategy = "cheapest"
	_, err := r.Route(context.Background(), req)
	if providers.KindOf(err) != providers.KindRequestMalformed {
		t.Errorf("kind = %v, err = %v", providers.KindOf(err), err)
	}
}

func TestRouteCustomStrategy(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	cfg := &Config{
		Providers: []providers.Provider{{
			Name:     "fake",
			BaseURLs: []string{srv.URL},
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
		Routing: RoutingConfig{Strategies: []scoring.Strategy{{
			Name: "frugal",
			Factors: []scoring.FactorWeight{
				{Factor: scoring.FactorCost, Weight: 0.7},
				{Factor: scoring.FactorReliability, Weight: 0.3},
			},
		}}},
	}
	r, err := New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	req := chatRequest("llama-3-8b")
	req.RoutingStrategy = "frugal"
	res, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "frugal" {
		t.Errorf("strategy = %q", res.Strategy)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates = %+v", res.Candidates)
	}

	// A custom name may also serve as the default strategy.
	cfg.Routing.DefaultStrategy = "frugal"
	if err := ValidateConfig(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestCustomStrategyValidation(t *testing.T) {
	base := func() *Config {
		return &Config{
			Providers: []providers.Provider{{
				Name:     "fake",
				BaseURLs: []string{"http://127.0.0.1:1"},
				Auth:     providers.AuthBearer,
				Adapter:  providers.KindOpenAI,
			}},
		}
	}
	cases := []struct {
		name     string
		strategy scoring.Strategy
	}{
		{"shadows preset", scoring.Strategy{Name: "balanced", Factors: []scoring.FactorWeight{{Factor: scoring.FactorCost, Weight: 1}}}},
		{"unknown factor", scoring.Strategy{Name: "x", Factors: []scoring.FactorWeight{{Factor: "price", Weight: 1}}}},
		{"zero weight", scoring.Strategy{Name: "x", Factors: []scoring.FactorWeight{{Factor: scoring.FactorCost, Weight: 0}}}},
		{"no factors", scoring.Strategy{Name: "x"}},
		{"bad order", scoring.Strategy{Name: "x", Factors: []scoring.FactorWeight{{Factor: scoring.FactorCost, Weight: 1, Order: "up"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			cfg.Routing.Strategies = []scoring.Strategy{tc.strategy}
			cfg.withDefaults()
			if err := ValidateConfig(cfg); providers.KindOf(err) != providers.KindConfigError {
				t.Errorf("kind = %v, err = %v", providers.KindOf(err), err)
			}
		})
	}
}

func TestRouteExcludedProvider(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	r := testRouter(t, srv.URL)

	req := chatRequest("llama-3-8b")
	req.ExcludedProviders = []string{"fake"}
	_, err := r.Route(context.Background(), req)
	if providers.KindOf(err) != providers.KindNoCandidates {
		t.Errorf("kind = %v, err = %v", providers.KindOf(err), err)
	}
}

func TestRouteCapabilityMismatch(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	r := testRouter(t, srv.URL)

	req := chatRequest("llama-3-8b")
	req.RequiredCapabilities = []string{"vision"}
	_, err := r.Route(context.Background(), req)
	if providers.KindOf(err) != providers.KindCapabilityMismatch {
		t.Errorf("kind = %v, err = %v", providers.KindOf(err), err)
	}
}

func TestRouteCloudSubstituteForLocalCapabilityGap(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	cfg := &Config{
		Providers: []providers.Provider{
			{
				Name:     "ollama",
				BaseURLs: []string{srv.URL},
				Auth:     providers.AuthNone,
				Adapter:  providers.KindOpenAI,
				Local:    true,
			},
			{
				Name:     "cloud",
				BaseURLs: []string{"https://api.cloud.example"},
				Auth:     providers.AuthBearer,
				Adapter:  providers.KindOpenAI,
			},
		},
		Channels: []providers.Channel{
			{ID: "ch-local", Provider: "ollama", ModelName: "qwen-7b", Enabled: true},
			{ID: "ch-cloud", Provider: "cloud", ModelName: "qwen-7b-vision", APIKey: "sk-c", Enabled: true},
		},
	}
	r, err := New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	// Only the local channel serves the plain name, and its model lacks
	// vision; the search must fall through to the cloud family member.
	req := chatRequest("qwen-7b")
	req.RequiredCapabilities = []string{"vision"}
	res, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if got := res.Candidates[0]; got.Channel.ID != "ch-cloud" || got.Model != "qwen-7b-vision" {
		t.Errorf("substitute = %s/%s", got.Channel.ID, got.Model)
	}

	// A tag query is never widened.
	req2 := chatRequest("tag:qwen-7b")
	req2.RequiredCapabilities = []string{"vision"}
	_, err = r.Route(context.Background(), req2)
	if providers.KindOf(err) != providers.KindCapabilityMismatch {
		t.Errorf("kind = %v, err = %v", providers.KindOf(err), err)
	}
}

func TestCompleteEndToEnd(t *testing.T) {
	var gotAuth string
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody("llama-3-8b", "hi"))
	})
	r := testRouter(t, srv.URL)

	resp, err := r.Complete(context.Background(), chatRequest("llama-3-8b"))
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if resp.Channel != "ch-1" || resp.Provider != "fake" {
		t.Errorf("attribution = %q/%q", resp.Provider, resp.Channel)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hi" {
		t.Errorf("choices = %+v", resp.Choices)
	}
}

func TestServerErrorBlacklistsAndInvalidatesCache(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r := testRouter(t, srv.URL)

	_, err := r.Complete(context.Background(), chatRequest("llama-3-8b"))
	if err == nil {
		t.Fatal("expected upstream failure")
	}

	// The trip removed the cached decision and the pair is now suppressed.
	_, err = r.Route(context.Background(), chatRequest("llama-3-8b"))
	if providers.KindOf(err) != providers.KindNoCandidates {
		t.Errorf("kind = %v, err = %v", providers.KindOf(err), err)
	}
	if len(r.blacklist.Entries()) != 1 {
		t.Errorf("blacklist entries = %+v", r.blacklist.Entries())
	}
}

func TestDiscoveryTaskPopulatesSnapshots(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"data":[{"id":"qwen3-32b"},{"id":"qwen3-32b-vision"}]}`)
		default:
			http.NotFound(w, r)
		}
	})
	r := testRouter(t, srv.URL)
	r.registry.Get("ch-1").ModelName = "auto"

	if err := r.runDiscovery(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.store.Len() != 1 {
		t.Fatalf("snapshots = %d", r.store.Len())
	}

	res, err := r.Route(context.Background(), chatRequest("qwen3-32b"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Model != "qwen3-32b" {
		t.Fatalf("candidates = %+v", res.Candidates)
	}

	// Discovery doubles as key validation.
	if !r.keys.Usable("ch-1", r.registry.Get("ch-1").KeyFingerprint()) {
		t.Error("key must be usable after successful discovery")
	}
}

func TestDiscoveryAuthFailureMarksKeyInvalid(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	r := testRouter(t, srv.URL)

	if err := r.runDiscovery(context.Background()); err == nil {
		t.Fatal("expected discovery failure")
	}
	ch := r.registry.Get("ch-1")
	if r.keys.Usable(ch.ID, ch.KeyFingerprint()) {
		t.Error("key must be unusable after an auth rejection")
	}

	// Unusable keys drop the channel at filter time.
	_, err := r.Route(context.Background(), chatRequest("llama-3-8b"))
	if providers.KindOf(err) != providers.KindNoCandidates {
		t.Errorf("kind = %v, err = %v", providers.KindOf(err), err)
	}
}

func TestStreamEndToEnd(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"id\":\"s1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"he\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"id\":\"s1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"y\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	r := testRouter(t, srv.URL)

	req := chatRequest("llama-3-8b")
	req.Stream = true
	sr, err := r.Stream(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	var text strings.Builder
	for chunk := range sr.Chunks {
		if chunk.Error != nil {
			t.Fatal(chunk.Error)
		}
		for _, c := range chunk.Choices {
			text.WriteString(c.Delta.Content)
		}
	}
	if text.String() != "hey" {
		t.Errorf("streamed text = %q", text.String())
	}
}

func TestStatusDocument(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody("llama-3-8b", "ok"))
	})
	r := testRouter(t, srv.URL)
	if _, err := r.Complete(context.Background(), chatRequest("llama-3-8b")); err != nil {
		t.Fatal(err)
	}

	st := r.Status()
	if len(st.Channels) != 1 || st.Channels[0].Requests != 1 || st.Channels[0].Successes != 1 {
		t.Errorf("channel health = %+v", st.Channels)
	}
	if st.Cache.Misses == 0 {
		t.Error("route cache miss counter should be non-zero")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "route_cache") {
		t.Errorf("status json = %s", raw)
	}
}

func TestCleanupTaskSweeps(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	r := testRouter(t, srv.URL)
	if err := r.runCleanup(context.Background()); err != nil {
		t.Fatal(err)
	}
}
