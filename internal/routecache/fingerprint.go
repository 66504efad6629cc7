// Package routecache memoises routing decisions keyed by a canonical request
// fingerprint, with invalidation when a channel's state changes.
package routecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/ferro-labs/llm-router/providers"
)

// fingerprintFields is the canonical subset of a request that affects
// routing. Field order is fixed by the struct; slice fields are sorted before
// marshalling so logically equal requests hash identically.
type fingerprintFields struct {
	Model             string   `json:"model"`
	Strategy          string   `json:"strategy"`
	RequiredCaps      []string `json:"required_caps"`
	MinContext        int      `json:"min_context"`
	MaxCost           float64  `json:"max_cost"`
	PreferLocal       bool     `json:"prefer_local"`
	ExcludedProviders []string `json:"excluded_providers"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float64  `json:"temperature"`
	Stream            bool     `json:"stream"`
	HasTools          bool     `json:"has_tools"`
}

// Fingerprint hashes the routing-relevant fields of a request. Message
// content is deliberately excluded: two requests to the same model under the
// same constraints route the same way regardless of what they say.
func Fingerprint(req *providers.Request, strategy string) string {
	f := fingerprintFields{
		Model:             req.Model,
		Strategy:          strategy,
		RequiredCaps:      sortedCopy(req.RequiredCapabilities),
		MinContext:        req.MinContext,
		MaxCost:           req.MaxCost,
		PreferLocal:       req.PreferLocal,
		ExcludedProviders: sortedCopy(req.ExcludedProviders),
		Stream:            req.Stream,
		HasTools:          len(req.Tools) > 0,
	}
	if req.MaxTokens != nil {
		f.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		f.Temperature = *req.Temperature
	}
	// Marshal cannot fail on this shape.
	raw, _ := json.Marshal(f)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
