// Package models holds the model/pricing registry: the merged description of
// every physical model as seen through a channel, built from a base layer
// (upstream snapshot or name inference) with provider- and channel-level
// overrides applied on top.
//
// Snapshots are partitioned by (channel id, api-key fingerprint) and replaced
// wholesale, so readers always observe either the previous snapshot or the new
// one, never a mix.
package models

import "fmt"

// DataSource identifies which layer produced the resolved ModelInfo.
type DataSource string

// Data source constants, ordered from least to most specific.
const (
	SourceBase            DataSource = "base"
	SourceInferred        DataSource = "inferred"
	SourceProviderOverride DataSource = "provider-override"
	SourceChannelOverride  DataSource = "channel-override"
	SourceLocalProbe       DataSource = "local-probe"
)

// Capabilities describes what features a model supports.
type Capabilities struct {
	Vision          bool `json:"vision"`
	FunctionCalling bool `json:"function_calling"`
	Streaming       bool `json:"streaming"`
	Code            bool `json:"code"`
}

// Has reports whether the named capability is advertised.
func (c Capabilities) Has(name string) bool {
	switch name {
	case "vision":
		return c.Vision
	case "function_calling", "tools":
		return c.FunctionCalling
	case "streaming":
		return c.Streaming
	case "code":
		return c.Code
	default:
		return false
	}
}

// Specs holds the numeric model specification fields.
type Specs struct {
	// Parameters is the raw parameter count (7B model => 7_000_000_000).
	// Zero means unknown.
	Parameters int64 `json:"parameters,omitempty"`
	// ContextLength is the context window in tokens. Zero means unknown.
	ContextLength int `json:"context_length,omitempty"`
	// ContextText is the human-readable form ("128k"); regenerated whenever
	// ContextLength is set through an override.
	ContextText     string `json:"context_text,omitempty"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
}

// Pricing holds per-token prices in USD. A zero price with IsFree false means
// unknown, not free.
type Pricing struct {
	InputPerToken  float64 `json:"input_per_token"`
	OutputPerToken float64 `json:"output_per_token"`
	IsFree         bool    `json:"is_free,omitempty"`
	PerRequest     float64 `json:"per_request,omitempty"`
	PerImage       float64 `json:"per_image,omitempty"`
}

// ModelInfo is the merged description of one physical model as seen through
// one channel. Identity is (ChannelID, ID).
type ModelInfo struct {
	ChannelID    string       `json:"channel_id"`
	ID           string       `json:"id"`
	Capabilities Capabilities `json:"capabilities"`
	Specs        Specs        `json:"specs"`
	Pricing      Pricing      `json:"pricing"`
	// Quality is a heuristic score in [0,1].
	Quality float64    `json:"quality"`
	IsLocal bool       `json:"is_local,omitempty"`
	Source  DataSource `json:"source"`
}

// Override is one layer of field overrides. Nil pointer fields leave the
// resolved value untouched; multiplier fields scale the current value.
type Override struct {
	InputPerToken   *float64 `json:"input_per_token,omitempty" yaml:"input_per_token,omitempty"`
	OutputPerToken  *float64 `json:"output_per_token,omitempty" yaml:"output_per_token,omitempty"`
	PriceMultiplier *float64 `json:"price_multiplier,omitempty" yaml:"price_multiplier,omitempty"`
	IsFree          *bool    `json:"is_free,omitempty" yaml:"is_free,omitempty"`
	PerRequest      *float64 `json:"per_request,omitempty" yaml:"per_request,omitempty"`
	PerImage        *float64 `json:"per_image,omitempty" yaml:"per_image,omitempty"`

	Quality      *float64 `json:"quality,omitempty" yaml:"quality,omitempty"`
	QualityBoost *float64 `json:"quality_boost,omitempty" yaml:"quality_boost,omitempty"`
	IsLocal      *bool    `json:"is_local,omitempty" yaml:"is_local,omitempty"`

	Parameters      *int64 `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ContextLength   *int   `json:"context_length,omitempty" yaml:"context_length,omitempty"`
	MaxOutputTokens *int   `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`

	Vision          *bool `json:"vision,omitempty" yaml:"vision,omitempty"`
	FunctionCalling *bool `json:"function_calling,omitempty" yaml:"function_calling,omitempty"`
	Streaming       *bool `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	Code            *bool `json:"code,omitempty" yaml:"code,omitempty"`
}

// Apply merges the override into info and tags it with source. Application
// never fails: nil fields are skipped, multipliers scale in place.
func (o *Override) Apply(info ModelInfo, source DataSource) ModelInfo {
	if o == nil {
		return info
	}
	if o.InputPerToken != nil {
		info.Pricing.InputPerToken = *o.InputPerToken
	}
	if o.OutputPerToken != nil {
		info.Pricing.OutputPerToken = *o.OutputPerToken
	}
	if o.PriceMultiplier != nil {
		info.Pricing.InputPerToken *= *o.PriceMultiplier
		info.Pricing.OutputPerToken *= *o.PriceMultiplier
	}
	if o.IsFree != nil {
		info.Pricing.IsFree = *o.IsFree
	}
	if o.PerRequest != nil {
		info.Pricing.PerRequest = *o.PerRequest
	}
	if o.PerImage != nil {
		info.Pricing.PerImage = *o.PerImage
	}
	if o.Quality != nil {
		info.Quality = clamp01(*o.Quality)
	}
	if o.QualityBoost != nil {
		info.Quality = clamp01(info.Quality + *o.QualityBoost)
	}
	if o.IsLocal != nil {
		info.IsLocal = *o.IsLocal
	}
	if o.Parameters != nil {
		info.Specs.Parameters = *o.Parameters
	}
	if o.ContextLength != nil {
		info.Specs.ContextLength = *o.ContextLength
		info.Specs.ContextText = ContextText(*o.ContextLength)
	}
	if o.MaxOutputTokens != nil {
		info.Specs.MaxOutputTokens = *o.MaxOutputTokens
	}
	if o.Vision != nil {
		info.Capabilities.Vision = *o.Vision
	}
	if o.FunctionCalling != nil {
		info.Capabilities.FunctionCalling = *o.FunctionCalling
	}
	if o.Streaming != nil {
		info.Capabilities.Streaming = *o.Streaming
	}
	if o.Code != nil {
		info.Capabilities.Code = *o.Code
	}
	info.Source = source
	return info
}

// Resolve applies the override layers to base in order (provider-wide first,
// channel-wide, then per-model) and enforces the free-pricing invariant.
func Resolve(base ModelInfo, layers ...*Override) ModelInfo {
	info := base
	sources := []DataSource{SourceProviderOverride, SourceChannelOverride, SourceChannelOverride}
	for i, layer := range layers {
		if layer == nil {
			continue
		}
		src := SourceChannelOverride
		if i < len(sources) {
			src = sources[i]
		}
		info = layer.Apply(info, src)
	}
	// Free flag always zeroes both per-token prices.
	if info.Pricing.IsFree {
		info.Pricing.InputPerToken = 0
		info.Pricing.OutputPerToken = 0
	}
	return info
}

// ContextText renders a context length as the usual "32k" / "2m" shorthand.
func ContextText(tokens int) string {
	switch {
	case tokens <= 0:
		return ""
	case tokens >= 1_000_000:
		return fmt.Sprintf("%gm", float64(tokens)/1_000_000)
	case tokens >= 1000:
		return fmt.Sprintf("%gk", float64(tokens)/1000)
	default:
		return fmt.Sprintf("%d", tokens)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
