package providers

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ferro-labs/llm-router/models"
)

// AuthMode selects how a channel's credential is attached to upstream calls.
type AuthMode string

// Auth mode constants.
const (
	AuthBearer AuthMode = "bearer"  // Authorization: Bearer <key>
	AuthAPIKey AuthMode = "api-key" // api-key: <key>
	AuthVendor AuthMode = "vendor"  // adapter-specific headers (x-api-key etc.)
	AuthOAuth2 AuthMode = "oauth2"  // client-credentials token source
	AuthNone   AuthMode = "none"    // unauthenticated (local runtimes)
)

// AdapterKind selects the request/response translation behaviour.
type AdapterKind string

// Adapter kind constants.
const (
	KindOpenAI      AdapterKind = "openai-compatible"
	KindAnthropic   AdapterKind = "anthropic"
	KindOpenRouter  AdapterKind = "openrouter"
	KindSiliconFlow AdapterKind = "siliconflow-scraped"
	KindBedrock     AdapterKind = "bedrock"
)

// Provider is the configuration record for an upstream vendor family.
type Provider struct {
	Name string `json:"name" yaml:"name"`
	// BaseURLs lists endpoints in fallback order; the first reachable one is
	// used. A single entry is the common case.
	BaseURLs []string    `json:"base_urls" yaml:"base_urls"`
	Auth     AuthMode    `json:"auth,omitempty" yaml:"auth,omitempty"`
	Adapter  AdapterKind `json:"adapter,omitempty" yaml:"adapter,omitempty"`

	// OAuth2 client-credentials settings, used when Auth == AuthOAuth2.
	TokenURL     string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	ClientID     string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`

	// Override is the provider-wide ModelInfo override layer.
	Override *models.Override `json:"override,omitempty" yaml:"override,omitempty"`
	// FreeModelPatterns marks models free when their id contains a pattern.
	FreeModelPatterns []string `json:"free_model_patterns,omitempty" yaml:"free_model_patterns,omitempty"`
	// Local marks every channel of this provider as local inference.
	Local bool `json:"local,omitempty" yaml:"local,omitempty"`

	// AWS region for bedrock-kind providers.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// BaseURL returns the preferred endpoint, or "" when none is configured.
func (p *Provider) BaseURL() string {
	if len(p.BaseURLs) == 0 {
		return ""
	}
	return p.BaseURLs[0]
}

// Channel is one (provider, model-hint, credential) routable endpoint.
type Channel struct {
	ID       string `json:"id" yaml:"id"`
	Provider string `json:"provider" yaml:"provider"`
	// ModelName is the declared model, or "auto" to serve whatever the
	// upstream snapshot lists.
	ModelName string `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// BaseURL overrides the provider endpoint for this channel.
	BaseURL  string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Priority int      `json:"priority,omitempty" yaml:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	// ConfiguredModels is the fallback model list consulted when discovery
	// finds nothing for a plain-name query.
	ConfiguredModels []string `json:"configured_models,omitempty" yaml:"configured_models,omitempty"`
	// Overrides maps a model id (or "*" for channel-wide) to an override
	// layer. Per-model entries take precedence over "*".
	Overrides map[string]*models.Override `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	// ModelAliases maps an alias to a physical model id on this channel.
	ModelAliases map[string]string `json:"model_aliases,omitempty" yaml:"model_aliases,omitempty"`
}

// Usable reports whether the channel can serve traffic. A channel with an
// empty credential is treated as disabled unless its provider needs none.
func (c *Channel) Usable(p *Provider) bool {
	if !c.Enabled {
		return false
	}
	if c.APIKey == "" {
		return p != nil && (p.Auth == AuthNone || p.Auth == AuthOAuth2 || p.Adapter == KindBedrock)
	}
	return true
}

// KeyFingerprint returns the 8-hex-digit fingerprint of the channel's
// credential. The fingerprint is the only identifier for the secret in cache
// keys, logs, and persisted artefacts.
func (c *Channel) KeyFingerprint() string {
	return KeyFingerprint(c.APIKey)
}

// OverrideFor returns the channel-wide and per-model override layers.
func (c *Channel) OverrideFor(modelID string) (wide, perModel *models.Override) {
	if c.Overrides == nil {
		return nil, nil
	}
	return c.Overrides["*"], c.Overrides[modelID]
}

// KeyFingerprint derives the 8-hex-digit fingerprint of a secret.
func KeyFingerprint(secret string) string {
	if secret == "" {
		return "00000000"
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}

// Candidate is a (channel, resolved physical model) pair produced by
// candidate discovery. Info is the merged ModelInfo used for filtering and
// scoring; Model is what will be sent upstream.
type Candidate struct {
	Channel *Channel
	Model   string
	Info    models.ModelInfo
}
