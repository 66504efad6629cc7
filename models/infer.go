package models

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// paramPattern matches parameter-size literals like "7b", "0.5b", "14B",
	// "480m" embedded in a model id between delimiters.
	paramPattern = regexp.MustCompile(`(?i)(?:^|[-_/:.])(\d+(?:\.\d+)?)([bm])(?:$|[-_/:.])`)
	// contextPattern matches context-window literals like "32k", "128k", "1m".
	contextPattern = regexp.MustCompile(`(?i)(?:^|[-_/:.])(\d+(?:\.\d+)?)([km])(?:$|[-_/:.])`)
)

// InferFromID synthesises a base ModelInfo from a model identifier alone,
// used when no upstream snapshot covers the model. Parameter count and
// context length are read from literals like "7b" and "32k"; capabilities
// fall back to conservative defaults (streaming on, everything else off
// unless the name says otherwise).
func InferFromID(channelID, modelID string) ModelInfo {
	info := ModelInfo{
		ChannelID: channelID,
		ID:        modelID,
		Source:    SourceInferred,
		Quality:   0.6,
		Capabilities: Capabilities{
			Streaming: true,
		},
	}
	lower := strings.ToLower(modelID)

	if params, ok := inferParameters(lower); ok {
		info.Specs.Parameters = params
	}
	if ctx, ok := inferContext(lower); ok {
		info.Specs.ContextLength = ctx
		info.Specs.ContextText = ContextText(ctx)
	}
	if strings.Contains(lower, "vision") || strings.Contains(lower, "-vl") {
		info.Capabilities.Vision = true
	}
	if strings.Contains(lower, "coder") || strings.Contains(lower, "code") {
		info.Capabilities.Code = true
	}
	if strings.Contains(lower, "free") || strings.Contains(lower, "免费") {
		info.Pricing.IsFree = true
	}
	return info
}

// inferParameters extracts a raw parameter count from a size literal.
// "7b" => 7e9, "480m" => 4.8e8. A literal that also parses as a context
// window ("32k") is not a parameter size.
func inferParameters(id string) (int64, bool) {
	m := paramPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "b":
		return int64(n * 1e9), true
	case "m":
		// Million-parameter models exist ("embedding-350m") but "8m" style
		// context literals do too; sizes under 10 are treated as context.
		if n < 10 {
			return 0, false
		}
		return int64(n * 1e6), true
	}
	return 0, false
}

// inferContext extracts a context window from a "32k" / "1m" literal.
func inferContext(id string) (int, bool) {
	for _, m := range contextPattern.FindAllStringSubmatch(id, -1) {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "k":
			return int(n * 1000), true
		case "m":
			if n <= 8 { // "1m" context; larger m-values are parameter counts
				return int(n * 1_000_000), true
			}
		}
	}
	return 0, false
}
