package llmrouter

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ferro-labs/llm-router/internal/scoring"
	"github.com/ferro-labs/llm-router/providers"
)

//go:embed config_schema.json
var configSchema string

// envPattern matches ${VAR} and ${VAR:default} references.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// LoadConfig reads, interpolates, validates, and parses a config file.
// Supported formats: JSON (.json), YAML (.yaml, .yml). Environment
// references like ${OPENROUTER_KEY} or ${PORT:8080} are expanded before
// parsing so credentials stay out of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	data = ExpandEnv(data)

	var cfg Config
	var generic any
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	if err := validateSchema(generic); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ExpandEnv replaces ${VAR} and ${VAR:default} references. Unset variables
// without a default expand to the empty string, which disables the channel
// carrying them rather than failing startup.
func ExpandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		groups := envPattern.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(groups[1])); ok {
			return []byte(v)
		}
		return groups[2]
	})
}

func validateSchema(generic any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config_schema.json", strings.NewReader(configSchema)); err != nil {
		return fmt.Errorf("loading config schema: %w", err)
	}
	schema, err := compiler.Compile("config_schema.json")
	if err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return providers.WrapRouteError(providers.KindConfigError, err, "config schema validation failed")
	}
	return nil
}

// ValidateConfig checks cross-field constraints the schema cannot express.
func ValidateConfig(cfg *Config) error {
	providerNames := make(map[string]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if providerNames[p.Name] {
			return providers.NewRouteError(providers.KindConfigError, "duplicate provider %q", p.Name)
		}
		providerNames[p.Name] = true
		if p.Auth == providers.AuthOAuth2 && (p.TokenURL == "" || p.ClientID == "") {
			return providers.NewRouteError(providers.KindConfigError,
				"provider %q: oauth2 auth requires token_url and client_id", p.Name)
		}
		if p.Adapter != providers.KindBedrock && len(p.BaseURLs) == 0 {
			return providers.NewRouteError(providers.KindConfigError,
				"provider %q: base_urls is required", p.Name)
		}
	}

	channelIDs := make(map[string]bool, len(cfg.Channels))
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if channelIDs[ch.ID] {
			return providers.NewRouteError(providers.KindConfigError, "duplicate channel %q", ch.ID)
		}
		channelIDs[ch.ID] = true
		if !providerNames[ch.Provider] {
			return providers.NewRouteError(providers.KindConfigError,
				"channel %q references unknown provider %q", ch.ID, ch.Provider)
		}
	}

	custom := make(map[string]bool, len(cfg.Routing.Strategies))
	for _, s := range cfg.Routing.Strategies {
		if _, err := scoring.Custom(s.Name, s.Factors); err != nil {
			return providers.WrapRouteError(providers.KindConfigError, err, "routing.strategies")
		}
		if _, err := scoring.Preset(s.Name); err == nil {
			return providers.NewRouteError(providers.KindConfigError,
				"routing.strategies: %q shadows a built-in strategy", s.Name)
		}
		if custom[s.Name] {
			return providers.NewRouteError(providers.KindConfigError,
				"routing.strategies: duplicate strategy %q", s.Name)
		}
		custom[s.Name] = true
	}
	if !custom[cfg.Routing.DefaultStrategy] {
		if _, err := scoring.Preset(cfg.Routing.DefaultStrategy); err != nil {
			return providers.WrapRouteError(providers.KindConfigError, err, "routing.default_strategy")
		}
	}
	switch cfg.KeyStore.Backend {
	case "", "memory", "sqlite", "postgres":
	default:
		return providers.NewRouteError(providers.KindConfigError,
			"unknown key_store backend %q", cfg.KeyStore.Backend)
	}
	return nil
}
