// Package scoring ranks routing candidates under a named strategy. Each
// candidate gets eight factor scores in [0,1]; the sort key is a hierarchical
// bucket composite so that coarse wins on dominant factors are never traded
// for micro-gains on minor ones.
package scoring

import (
	"net/url"
	"strings"

	"github.com/ferro-labs/llm-router/providers"
)

// Factor names a score dimension.
type Factor string

const (
	FactorCost        Factor = "cost"
	FactorSpeed       Factor = "speed"
	FactorQuality     Factor = "quality"
	FactorReliability Factor = "reliability"
	FactorParameter   Factor = "parameter"
	FactorContext     Factor = "context"
	FactorFree        Factor = "free"
	FactorLocal       Factor = "local"
)

// freeEpsilon is the per-token price below which a model counts as free.
const freeEpsilon = 1e-9

// costCeiling normalises the dollar estimate: anything at or above this per
// request scores 0.
const costCeiling = 0.05

// defaultOutputTokens is assumed when the request carries no max_tokens.
const defaultOutputTokens = 500

// EstimateCost approximates the dollar cost of one request against a model.
// Input tokens use the ~4 bytes per token heuristic over the message bytes.
func EstimateCost(req *providers.Request, cand providers.Candidate) float64 {
	var inputBytes int
	for _, m := range req.Messages {
		inputBytes += len(m.Content)
		for _, p := range m.ContentParts {
			inputBytes += len(p.Text)
		}
	}
	inputTokens := float64(inputBytes) / 4
	outputTokens := float64(defaultOutputTokens)
	if req.MaxTokens != nil {
		outputTokens = float64(*req.MaxTokens)
	}
	p := cand.Info.Pricing
	return inputTokens*p.InputPerToken + outputTokens*p.OutputPerToken + p.PerRequest
}

func costScore(req *providers.Request, cand providers.Candidate) float64 {
	if freeScore(cand) == 1.0 {
		return 1.0
	}
	estimate := EstimateCost(req, cand)
	s := 1 - estimate/costCeiling
	if s < 0 {
		return 0
	}
	return s
}

func speedScore(avgLatencyMs float64) float64 {
	switch {
	case avgLatencyMs <= 0:
		return 0.6 // unknown
	case avgLatencyMs <= 500:
		return 1.0
	case avgLatencyMs <= 1000:
		return 0.9
	case avgLatencyMs <= 2000:
		return 0.8
	case avgLatencyMs <= 4000:
		return 0.6
	case avgLatencyMs <= 6000:
		return 0.4
	default:
		return 0.2
	}
}

// qualityKeywords maps id substrings to tier scores, checked in order so the
// most specific entry wins. The mapping tracks published model tiers.
var qualityKeywords = []struct {
	substr string
	score  float64
}{
	{"claude-3-opus", 0.93},
	{"claude-3-5-sonnet", 0.92},
	{"claude-3.5-sonnet", 0.92},
	{"gpt-4o-mini", 0.8},
	{"gpt-4o", 0.95},
	{"gpt-4", 0.95},
	{"o1", 0.95},
	{"deepseek-r1", 0.9},
	{"deepseek-v3", 0.88},
	{"llama-3.1-405b", 0.9},
	{"claude-3-haiku", 0.78},
	{"gpt-3.5", 0.7},
}

func qualityScore(cand providers.Candidate) float64 {
	id := strings.ToLower(cand.Model)
	for _, kw := range qualityKeywords {
		if strings.Contains(id, kw.substr) {
			return kw.score
		}
	}
	if q := cand.Info.Quality; q > 0 {
		return q
	}
	return 0.6
}

func reliabilityScore(healthScore float64, requests int64) float64 {
	if requests < 5 {
		return 0.5
	}
	return healthScore
}

func parameterScore(params int64) float64 {
	switch {
	case params <= 0:
		return 0.5 // unknown
	case params >= 100e9:
		return 1.0
	case params >= 70e9:
		return 0.9
	case params >= 30e9:
		return 0.8
	case params >= 13e9:
		return 0.65
	case params >= 7e9:
		return 0.5
	default:
		return 0.3
	}
}

func contextScore(ctx int) float64 {
	switch {
	case ctx <= 0:
		return 0.5 // unknown
	case ctx >= 2_000_000:
		return 1.0
	case ctx >= 1_000_000:
		return 0.95
	case ctx >= 200_000:
		return 0.9
	case ctx >= 128_000:
		return 0.85
	case ctx >= 32_000:
		return 0.7
	case ctx >= 16_000:
		return 0.6
	case ctx >= 8_000:
		return 0.5
	case ctx >= 4_000:
		return 0.35
	default:
		return 0.2
	}
}

func freeScore(cand providers.Candidate) float64 {
	id := strings.ToLower(cand.Model)
	if strings.Contains(id, "free") || strings.Contains(id, "免费") {
		return 1.0
	}
	p := cand.Info.Pricing
	if p.IsFree {
		return 1.0
	}
	if p.InputPerToken <= freeEpsilon && p.OutputPerToken <= freeEpsilon {
		return 1.0
	}
	return 0.1
}

var localRunnerTokens = []string{"ollama", "llama.cpp", "llamacpp", "lmstudio", "vllm", "localai"}

func localScore(cand providers.Candidate, baseURL string) float64 {
	if cand.Info.IsLocal {
		return 1.0
	}
	if isLocalHost(baseURL) {
		return 1.0
	}
	id := strings.ToLower(cand.Model + " " + cand.Channel.Provider)
	for _, tok := range localRunnerTokens {
		if strings.Contains(id, tok) {
			return 0.8
		}
	}
	return 0.1
}

// IsLocalURL reports whether an endpoint URL points at loopback or LAN
// infrastructure. Shared with the router's prefer_local filter.
func IsLocalURL(baseURL string) bool { return isLocalHost(baseURL) }

func isLocalHost(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	return strings.HasPrefix(host, "192.168.") || strings.HasPrefix(host, "10.") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".lan")
}
