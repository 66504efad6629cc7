package llmrouter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ferro-labs/llm-router/providers"
)

const sampleYAML = `
server:
  addr: ":9090"
  request_timeout: 120s
  rate_limit:
    per_second: 10
    burst: 20
providers:
  - name: openrouter
    base_urls: ["https://openrouter.ai/api/v1"]
    auth: bearer
    adapter: openrouter
  - name: ollama
    base_urls: ["http://localhost:11434/v1"]
    auth: none
    adapter: openai-compatible
    local: true
channels:
  - id: or-main
    provider: openrouter
    model_name: auto
    api_key: ${TEST_ROUTER_KEY:sk-fallback}
    enabled: true
    priority: 10
  - id: local-llama
    provider: ollama
    model_name: llama3:8b
    enabled: true
routing:
  default_strategy: cost_first
  cache_ttl: 30s
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "router.yaml", sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.RequestTimeout.D() != 120*time.Second {
		t.Errorf("request_timeout = %v", cfg.Server.RequestTimeout.D())
	}
	if cfg.Routing.DefaultStrategy != "cost_first" {
		t.Errorf("strategy = %q", cfg.Routing.DefaultStrategy)
	}
	// Defaults fill unset fields.
	if cfg.Server.ConnectTimeout.D() != DefaultConnectTimeout {
		t.Errorf("connect_timeout default = %v", cfg.Server.ConnectTimeout.D())
	}
	if cfg.Scheduler.DiscoveryInterval.D() != DefaultDiscoveryInterval {
		t.Errorf("discovery_interval default = %v", cfg.Scheduler.DiscoveryInterval.D())
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].ID != "or-main" {
		t.Fatalf("channels = %+v", cfg.Channels)
	}
	// Env reference with a default expands to the default when unset.
	if cfg.Channels[0].APIKey != "sk-fallback" {
		t.Errorf("api_key = %q", cfg.Channels[0].APIKey)
	}
}

func TestLoadConfigEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_ROUTER_KEY", "sk-live-value")
	cfg, err := LoadConfig(writeConfig(t, "router.yaml", sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels[0].APIKey != "sk-live-value" {
		t.Errorf("api_key = %q, want env value", cfg.Channels[0].APIKey)
	}
}

func TestExpandEnvUnsetNoDefault(t *testing.T) {
	got := string(ExpandEnv([]byte("key: ${DEFINITELY_UNSET_VAR_42}")))
	if got != "key: " {
		t.Errorf("got %q", got)
	}
}

func TestLoadConfigUnknownProviderRef(t *testing.T) {
	bad := strings.Replace(sampleYAML, "provider: ollama", "provider: nowhere", 1)
	_, err := LoadConfig(writeConfig(t, "router.yaml", bad))
	if err == nil {
		t.Fatal("expected error for unknown provider reference")
	}
	if providers.KindOf(err) != providers.KindConfigError {
		t.Errorf("kind = %v", providers.KindOf(err))
	}
}

func TestLoadConfigDuplicateChannel(t *testing.T) {
	bad := strings.Replace(sampleYAML, "id: local-llama", "id: or-main", 1)
	if _, err := LoadConfig(writeConfig(t, "router.yaml", bad)); err == nil {
		t.Fatal("expected error for duplicate channel id")
	}
}

func TestLoadConfigSchemaRejectsBadStrategy(t *testing.T) {
	bad := strings.Replace(sampleYAML, "cost_first", "cheapest", 1)
	if _, err := LoadConfig(writeConfig(t, "router.yaml", bad)); err == nil {
		t.Fatal("expected schema error for unknown strategy")
	}
}

func TestLoadConfigJSON(t *testing.T) {
	body := `{
  "providers": [{"name": "openai", "base_urls": ["https://api.openai.com/v1"], "auth": "bearer", "adapter": "openai-compatible"}],
  "channels": [{"id": "oa", "provider": "openai", "model_name": "gpt-4o", "api_key": "sk-x", "enabled": true}]
}`
	cfg, err := LoadConfig(writeConfig(t, "router.json", body))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Routing.DefaultStrategy != "balanced" {
		t.Errorf("default strategy = %q", cfg.Routing.DefaultStrategy)
	}
}

func TestLoadConfigBadExtension(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "router.toml", "x = 1")); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}
