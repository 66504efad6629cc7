package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"
)

// OpenRouterAdapter extends the openai-compatible wire format with
// OpenRouter's provider-preference block and attribution headers. When the
// active strategy is cost-centric the adapter asks OpenRouter to sort its own
// internal providers by price.
type OpenRouterAdapter struct {
	OpenAIAdapter
}

// NewOpenRouterAdapter creates the openrouter adapter.
func NewOpenRouterAdapter() *OpenRouterAdapter { return &OpenRouterAdapter{} }

// Kind implements Adapter.
func (a *OpenRouterAdapter) Kind() AdapterKind { return KindOpenRouter }

// costCentricStrategy reports whether a strategy name optimises for price.
func costCentricStrategy(name string) bool {
	return name == "cost_first" || name == "free_first" || strings.HasPrefix(name, "cost")
}

// TransformRequest implements Adapter. Passthrough fields the caller supplied
// with the openrouter_ prefix are spliced into the body root.
func (a *OpenRouterAdapter) TransformRequest(req Request, model string, strategy string) ([]byte, string, error) {
	body, path, err := a.OpenAIAdapter.TransformRequest(req, model, strategy)
	if err != nil {
		return nil, "", err
	}

	if costCentricStrategy(strategy) {
		body, err = sjson.SetBytes(body, "provider.sort", "price")
		if err != nil {
			return nil, "", fmt.Errorf("set provider sort: %w", err)
		}
	}
	for field, raw := range req.Passthrough {
		body, err = sjson.SetRawBytes(body, field, raw)
		if err != nil {
			return nil, "", fmt.Errorf("set passthrough %s: %w", field, err)
		}
	}
	return body, path, nil
}

// AttributionHeaders returns the optional HTTP-Referer / X-Title headers
// OpenRouter uses for app rankings.
func (a *OpenRouterAdapter) AttributionHeaders(referer, title string) map[string]string {
	h := make(map[string]string, 2)
	if referer != "" {
		h["HTTP-Referer"] = referer
	}
	if title != "" {
		h["X-Title"] = title
	}
	return h
}

// ClassifyError implements Adapter. OpenRouter nests the upstream provider's
// status in error.metadata; a 200-wrapped provider error still classifies.
func (a *OpenRouterAdapter) ClassifyError(status int, body []byte) ErrorKind {
	var e struct {
		Error struct {
			Code     int `json:"code"`
			Metadata struct {
				ProviderStatus int `json:"provider_status"`
			} `json:"metadata"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error.Metadata.ProviderStatus != 0 {
			return ClassifyStatus(e.Error.Metadata.ProviderStatus)
		}
		if e.Error.Code != 0 {
			return ClassifyStatus(e.Error.Code)
		}
	}
	return ClassifyStatus(status)
}

// ParseModelList implements ModelLister. OpenRouter's listing carries pricing
// alongside ids; ids are enough here, pricing is merged by the registry.
func (a *OpenRouterAdapter) ParseModelList(body []byte) ([]string, error) {
	return a.OpenAIAdapter.ParseModelList(body)
}
