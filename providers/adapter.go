package providers

import (
	"context"
	"strings"
)

// Adapter translates between the canonical request/response shapes and one
// upstream wire format. Implementations are stateless; per-stream state lives
// in StreamState.
type Adapter interface {
	// Kind identifies the translation behaviour.
	Kind() AdapterKind
	// TransformRequest builds the upstream request body and URL path for the
	// resolved physical model. strategy names the active routing strategy so
	// cost-centric adapters can shape the request (openrouter price sort).
	TransformRequest(req Request, model string, strategy string) ([]byte, string, error)
	// TransformResponse converts a successful upstream body back to the
	// canonical shape.
	TransformResponse(body []byte, model string) (*Response, error)
	// ParseStreamLine consumes one SSE "data: " payload and emits canonical
	// chunks. done is true on the adapter's stop event or the [DONE] sentinel.
	ParseStreamLine(st *StreamState, data string) (chunks []StreamChunk, done bool, err error)
	// ClassifyError maps an upstream failure status plus body to an ErrorKind.
	ClassifyError(status int, body []byte) ErrorKind
}

// NativeCaller is an optional interface for adapters that bypass the generic
// HTTP path entirely (SDK-based upstreams such as Bedrock).
type NativeCaller interface {
	Adapter
	Complete(ctx context.Context, req Request, model string, p *Provider, ch *Channel) (*Response, error)
	CompleteStream(ctx context.Context, req Request, model string, p *Provider, ch *Channel) (<-chan StreamChunk, error)
}

// ModelLister is an optional interface for adapters that can enumerate the
// models visible to a credential.
type ModelLister interface {
	Adapter
	// ListModelsPath returns the request path of the models endpoint.
	ListModelsPath() string
	// ParseModelList extracts model ids from the endpoint's response body.
	ParseModelList(body []byte) ([]string, error)
}

// StreamState carries per-stream parser state across ParseStreamLine calls.
type StreamState struct {
	ID    string
	Model string
	// sentRole is set once the first delta carrying a role has been emitted.
	sentRole bool
}

// AdapterRegistry maps adapter kinds to implementations and resolves the
// adapter for a channel.
type AdapterRegistry struct {
	adapters map[AdapterKind]Adapter
}

// NewAdapterRegistry builds a registry with all built-in adapters.
func NewAdapterRegistry() *AdapterRegistry {
	r := &AdapterRegistry{adapters: make(map[AdapterKind]Adapter)}
	r.Register(NewOpenAIAdapter())
	r.Register(NewAnthropicAdapter())
	r.Register(NewOpenRouterAdapter())
	r.Register(NewSiliconFlowAdapter())
	r.Register(NewBedrockAdapter())
	return r
}

// Register adds or replaces the adapter for its kind.
func (r *AdapterRegistry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for kind.
func (r *AdapterRegistry) Get(kind AdapterKind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}

// ForChannel resolves the adapter for a channel: the provider's declared
// adapter kind wins, then base-URL heuristics, then openai-compatible.
func (r *AdapterRegistry) ForChannel(p *Provider, ch *Channel) Adapter {
	if p != nil && p.Adapter != "" {
		if a, ok := r.adapters[p.Adapter]; ok {
			return a
		}
	}
	if kind, ok := GuessKindFromURL(EffectiveBaseURL(p, ch)); ok {
		if a, ok := r.adapters[kind]; ok {
			return a
		}
	}
	return r.adapters[KindOpenAI]
}

// GuessKindFromURL infers an adapter kind from endpoint host heuristics.
func GuessKindFromURL(baseURL string) (AdapterKind, bool) {
	host := strings.ToLower(baseURL)
	switch {
	case strings.Contains(host, "openrouter.ai"):
		return KindOpenRouter, true
	case strings.Contains(host, "api.anthropic.com"):
		return KindAnthropic, true
	case strings.Contains(host, "siliconflow"):
		return KindSiliconFlow, true
	case strings.Contains(host, "bedrock-runtime"):
		return KindBedrock, true
	default:
		return "", false
	}
}

// EffectiveBaseURL returns the channel's endpoint: channel override first,
// then the provider's preferred URL.
func EffectiveBaseURL(p *Provider, ch *Channel) string {
	if ch != nil && ch.BaseURL != "" {
		return strings.TrimRight(ch.BaseURL, "/")
	}
	if p != nil {
		return strings.TrimRight(p.BaseURL(), "/")
	}
	return ""
}
