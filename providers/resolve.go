package providers

import (
	"strings"

	"github.com/ferro-labs/llm-router/models"
)

// ResolveInfo applies the override layers for a (provider, channel, model)
// triple on top of the base info: provider-wide overrides first, then the
// channel's "*" entry, then its per-model entry. Provider-level free-model
// patterns and the local flag fold into the provider layer.
func ResolveInfo(p *Provider, ch *Channel, base models.ModelInfo) models.ModelInfo {
	var providerLayer *models.Override
	if p != nil {
		providerLayer = p.Override
		if extra := providerImplicitOverride(p, base.ID); extra != nil {
			base = extra.Apply(base, models.SourceProviderOverride)
		}
	}
	var wide, perModel *models.Override
	if ch != nil {
		wide, perModel = ch.OverrideFor(base.ID)
	}
	return models.Resolve(base, providerLayer, wide, perModel)
}

// providerImplicitOverride synthesises the override implied by provider
// config flags rather than an explicit override block.
func providerImplicitOverride(p *Provider, modelID string) *models.Override {
	var o models.Override
	touched := false
	if p.Local {
		v := true
		o.IsLocal = &v
		touched = true
	}
	lower := strings.ToLower(modelID)
	for _, pat := range p.FreeModelPatterns {
		if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
			v := true
			o.IsFree = &v
			touched = true
			break
		}
	}
	if !touched {
		return nil
	}
	return &o
}
