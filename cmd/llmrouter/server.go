package main

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	llmrouter "github.com/ferro-labs/llm-router"
	"github.com/ferro-labs/llm-router/internal/callers"
	"github.com/ferro-labs/llm-router/internal/logging"
	"github.com/ferro-labs/llm-router/internal/metrics"
	"github.com/ferro-labs/llm-router/internal/ratelimit"
)

// newHandler builds the HTTP surface: the OpenAI-compatible data plane, the
// operational endpoints, and the admin API.
func newHandler(router *llmrouter.Router, cfg *llmrouter.Config, keyStore callers.Store) http.Handler {
	s := &server{router: router, cfg: cfg, keys: keyStore}
	if cfg.Server.RateLimit.PerSecond > 0 {
		s.limits = ratelimit.NewStore(cfg.Server.RateLimit.PerSecond, cfg.Server.RateLimit.Burst)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	if cfg.Server.EnableCORS {
		r.Use(corsMiddleware())
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(callers.AuthMiddleware(keyStore))
		r.Use(s.rateLimit)

		r.Group(func(r chi.Router) {
			r.Use(callers.RequireScope(callers.ScopeRoute))
			r.Post("/v1/chat/completions", s.handleChatCompletions)
			r.Post("/v1/completions", s.handleLegacyCompletions)
			r.Get("/v1/models", s.handleModels)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(callers.RequireScope(callers.ScopeAdmin))
			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Delete("/keys/{id}", s.handleRevokeKey)
			r.Post("/channels/{id}/enable", s.handleSetChannel(true))
			r.Post("/channels/{id}/disable", s.handleSetChannel(false))
			r.Post("/tasks/{name}", s.handleKickTask)
		})
	})
	return r
}

type server struct {
	router *llmrouter.Router
	cfg    *llmrouter.Config
	keys   callers.Store
	limits *ratelimit.Store
}

// rateLimit throttles per caller key when one is present, per client IP
// otherwise.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limits == nil {
			next.ServeHTTP(w, r)
			return
		}
		key, keyType := clientKey(r)
		if !s.limits.Allow(key) {
			metrics.RateLimitRejections.WithLabelValues(keyType).Inc()
			callers.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limit_error", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) (key, keyType string) {
	if k, ok := callers.FromContext(r.Context()); ok {
		return "key:" + k.ID, "api_key"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host, "ip"
}

func requestIsJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(ct, "application/json")
}
