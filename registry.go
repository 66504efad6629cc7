package llmrouter

import (
	"sort"
	"strings"
	"sync"

	"github.com/ferro-labs/llm-router/providers"
)

// ChannelRegistry is the runtime view of the configured providers and
// channels. It serves both candidate discovery and dispatch, and supports
// enabling/disabling channels while the router runs.
type ChannelRegistry struct {
	mu        sync.RWMutex
	providers map[string]*providers.Provider
	channels  []*providers.Channel
	byID      map[string]*providers.Channel
}

// NewChannelRegistry builds a registry from validated config.
func NewChannelRegistry(cfg *Config) *ChannelRegistry {
	r := &ChannelRegistry{
		providers: make(map[string]*providers.Provider, len(cfg.Providers)),
		byID:      make(map[string]*providers.Channel, len(cfg.Channels)),
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		r.providers[p.Name] = p
	}
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		r.channels = append(r.channels, ch)
		r.byID[ch.ID] = ch
	}
	sort.Slice(r.channels, func(i, j int) bool { return r.channels[i].ID < r.channels[j].ID })
	return r
}

// Provider returns the provider config by name, or nil.
func (r *ChannelRegistry) Provider(name string) *providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// Get returns the channel by id, or nil.
func (r *ChannelRegistry) Get(id string) *providers.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// All returns every channel, enabled or not, in id order.
func (r *ChannelRegistry) All() []*providers.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*providers.Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Enabled returns the channels currently eligible for routing, in id order.
func (r *ChannelRegistry) Enabled() []*providers.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*providers.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.Usable(r.providers[ch.Provider]) {
			out = append(out, ch)
		}
	}
	return out
}

// ByDeclaredModel returns enabled channels whose declared model name or one
// of their aliases matches name (case-insensitive).
func (r *ChannelRegistry) ByDeclaredModel(name string) []*providers.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*providers.Channel
	for _, ch := range r.channels {
		if !ch.Usable(r.providers[ch.Provider]) {
			continue
		}
		if ch.ModelName != "" && ch.ModelName != "auto" && strings.EqualFold(ch.ModelName, name) {
			out = append(out, ch)
			continue
		}
		for alias := range ch.ModelAliases {
			if strings.EqualFold(alias, name) {
				out = append(out, ch)
				break
			}
		}
	}
	return out
}

// SetEnabled toggles a channel at runtime. Returns false when the id is
// unknown.
func (r *ChannelRegistry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.byID[id]
	if !ok {
		return false
	}
	ch.Enabled = enabled
	return true
}
