// Package discovery turns a virtual model identifier into candidate
// (channel, physical model) pairs. Five dispatch paths cover parameter-size
// predicates, explicit and implicit tag queries, plain names, and the
// configured-models fallback. Discovery does not filter by health or
// blacklist; that is the router's job.
package discovery

import (
	"sort"
	"strings"

	"github.com/ferro-labs/llm-router/internal/tags"
	"github.com/ferro-labs/llm-router/models"
	"github.com/ferro-labs/llm-router/providers"
)

// ChannelSource is the registry view discovery needs.
type ChannelSource interface {
	Enabled() []*providers.Channel
	Provider(name string) *providers.Provider
	ByDeclaredModel(name string) []*providers.Channel
}

// Finder resolves virtual model identifiers against the channel registry and
// the model store.
type Finder struct {
	channels ChannelSource
	store    *models.Store
}

// NewFinder creates a Finder.
func NewFinder(channels ChannelSource, store *models.Store) *Finder {
	return &Finder{channels: channels, store: store}
}

// Find dispatches on the shape of the virtual model string. Plain names that
// match nothing return an empty list without error; tag and predicate paths
// fail loudly so the caller can distinguish "bad query" from "no capacity".
func (f *Finder) Find(virtualModel string) ([]providers.Candidate, error) {
	m := strings.TrimSpace(virtualModel)
	if m == "" {
		return nil, providers.NewRouteError(providers.KindRequestMalformed, "empty model")
	}

	// Explicit tag prefixes are checked before the param predicate so a size
	// filter inside a tag query ("tag:>20b") is not mistaken for one.
	if query, ok := strings.CutPrefix(m, "tags:"); ok {
		return f.byTagQuery(query)
	}
	if query, ok := strings.CutPrefix(m, "tag:"); ok {
		return f.byTagQuery(query)
	}
	if pred, ok, err := tags.ParseParamPredicate(m); ok {
		if err != nil {
			return nil, err
		}
		return f.byParamPredicate(pred)
	}
	if strings.Contains(m, ",") {
		return f.byTagQuery(m)
	}
	cands := f.byPlainName(m)
	if len(cands) == 0 {
		cands = f.byConfiguredFallback(m)
	}
	return cands, nil
}

// PathOf names the dispatch path Find takes for a virtual model, for
// metrics labelling: "param", "tag", or "plain".
func PathOf(virtualModel string) string {
	m := strings.TrimSpace(virtualModel)
	if strings.HasPrefix(m, "tags:") || strings.HasPrefix(m, "tag:") {
		return "tag"
	}
	if _, ok, _ := tags.ParseParamPredicate(m); ok {
		return "param"
	}
	if strings.Contains(m, ",") {
		return "tag"
	}
	return "plain"
}

// byParamPredicate matches snapshot models whose id starts with the
// predicate prefix and whose parameter count satisfies it. Larger models
// sort first so the predicate alone yields a sensible default order.
func (f *Finder) byParamPredicate(pred tags.ParamPredicate) ([]providers.Candidate, error) {
	var out []providers.Candidate
	f.eachModel(func(ch *providers.Channel, p *providers.Provider, modelID string, keyFP string) {
		if !pred.MatchesPrefix(modelID) {
			return
		}
		info := f.resolvedInfo(ch, p, keyFP, modelID)
		params := info.Specs.Parameters
		if params <= 0 {
			return
		}
		filter := tags.SizeFilter{Op: pred.Op, Threshold: pred.Threshold, Field: tags.FieldParams}
		if filter.Match(info) {
			out = append(out, providers.Candidate{Channel: ch, Model: modelID, Info: info})
		}
	})
	if len(out) == 0 {
		return nil, providers.NewRouteError(providers.KindParameterComparisonFailed,
			"no model matches %s%s%g", pred.Prefix, pred.Op, pred.Threshold)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Info.Specs.Parameters, out[j].Info.Specs.Parameters
		if pi != pj {
			return pi > pj
		}
		return out[i].Channel.ID < out[j].Channel.ID
	})
	return out, nil
}

// byTagQuery evaluates comma-separated terms: `!` prefixes negate, terms in
// the size-filter grammar become numeric filters, the rest are positive tags.
func (f *Finder) byTagQuery(query string) ([]providers.Candidate, error) {
	var positive, negative []string
	var filters []tags.SizeFilter
	for _, term := range strings.Split(query, ",") {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if neg, ok := strings.CutPrefix(term, "!"); ok {
			negative = append(negative, neg)
			continue
		}
		if filter, ok, err := tags.ParseSizeFilter(term); ok {
			if err != nil {
				return nil, err
			}
			filters = append(filters, filter)
			continue
		}
		positive = append(positive, term)
	}
	if len(positive) == 0 && len(negative) == 0 && len(filters) == 0 {
		return nil, providers.NewRouteError(providers.KindTagNotFound, "empty tag query")
	}

	var out []providers.Candidate
	f.eachModel(func(ch *providers.Channel, p *providers.Provider, modelID string, keyFP string) {
		set := tags.ExtractWithAliases(modelID, ch.ModelAliases)
		if !tags.HasAll(set, positive) || tags.HasAny(set, negative) {
			return
		}
		info := f.resolvedInfo(ch, p, keyFP, modelID)
		for _, filter := range filters {
			if !filter.Match(info) {
				return
			}
		}
		out = append(out, providers.Candidate{Channel: ch, Model: modelID, Info: info})
	})
	if len(out) == 0 {
		return nil, providers.NewRouteError(providers.KindTagNotFound,
			"no model matches tags %s", strings.Join(append(positive, negative...), ","))
	}
	return out, nil
}

// ByAnyTag returns every candidate whose tag set shares at least one of the
// given terms. The router's capability fallback uses it to widen a plain
// name to its model family; unlike a tag query, a single shared tag admits.
func (f *Finder) ByAnyTag(terms []string) []providers.Candidate {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	if len(lowered) == 0 {
		return nil
	}
	var out []providers.Candidate
	f.eachModel(func(ch *providers.Channel, p *providers.Provider, modelID string, keyFP string) {
		set := tags.ExtractWithAliases(modelID, ch.ModelAliases)
		if !tags.HasAny(set, lowered) {
			return
		}
		out = append(out, providers.Candidate{
			Channel: ch,
			Model:   modelID,
			Info:    f.resolvedInfo(ch, p, keyFP, modelID),
		})
	})
	return out
}

// byPlainName unions physical matches with complete-segment tag matches,
// deduplicated by (channel, physical id). Channels declaring the name
// directly count as physical matches even before their first snapshot.
func (f *Finder) byPlainName(m string) []providers.Candidate {
	lower := strings.ToLower(m)
	var out []providers.Candidate
	seen := make(map[string]bool)
	add := func(ch *providers.Channel, p *providers.Provider, modelID, keyFP string) {
		key := ch.ID + "\x00" + modelID
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, providers.Candidate{
			Channel: ch,
			Model:   modelID,
			Info:    f.resolvedInfo(ch, p, keyFP, modelID),
		})
	}

	for _, ch := range f.channels.ByDeclaredModel(m) {
		p := f.channels.Provider(ch.Provider)
		modelID := m
		// A declared name may be an alias for a snapshot model.
		if target, ok := ch.ModelAliases[m]; ok {
			modelID = target
		}
		add(ch, p, modelID, ch.KeyFingerprint())
	}

	f.eachModel(func(ch *providers.Channel, p *providers.Provider, modelID string, keyFP string) {
		if strings.EqualFold(modelID, m) {
			add(ch, p, modelID, keyFP)
			return
		}
		if tags.HasAny(tags.ExtractWithAliases(modelID, ch.ModelAliases), []string{lower}) {
			add(ch, p, modelID, keyFP)
		}
	})
	return out
}

// byConfiguredFallback consults configured_models lists when the plain-name
// paths found nothing.
func (f *Finder) byConfiguredFallback(m string) []providers.Candidate {
	var out []providers.Candidate
	for _, ch := range f.channels.Enabled() {
		for _, configured := range ch.ConfiguredModels {
			if !strings.EqualFold(configured, m) {
				continue
			}
			p := f.channels.Provider(ch.Provider)
			modelID := m
			keyFP := ch.KeyFingerprint()
			// Prefer the snapshot's spelling of the id when one exists.
			if snap, ok := f.store.AnyForChannel(ch.ID); ok {
				for _, id := range snap.ModelIDs {
					if strings.EqualFold(id, m) {
						modelID = id
						keyFP = snap.KeyFingerprint
						break
					}
				}
			}
			out = append(out, providers.Candidate{
				Channel: ch,
				Model:   modelID,
				Info:    f.resolvedInfo(ch, p, keyFP, modelID),
			})
			break
		}
	}
	return out
}

// eachModel visits every (enabled channel, known model) pair: snapshot
// models for channels with one, configured models otherwise.
func (f *Finder) eachModel(visit func(ch *providers.Channel, p *providers.Provider, modelID string, keyFP string)) {
	for _, ch := range f.channels.Enabled() {
		p := f.channels.Provider(ch.Provider)
		if snap, ok := f.store.AnyForChannel(ch.ID); ok {
			for _, id := range snap.ModelIDs {
				visit(ch, p, id, snap.KeyFingerprint)
			}
			continue
		}
		seen := make(map[string]bool, len(ch.ConfiguredModels)+1)
		for _, id := range ch.ConfiguredModels {
			seen[id] = true
			visit(ch, p, id, ch.KeyFingerprint())
		}
		if ch.ModelName != "" && ch.ModelName != "auto" && !seen[ch.ModelName] {
			visit(ch, p, ch.ModelName, ch.KeyFingerprint())
		}
	}
}

// resolvedInfo builds the fully layered ModelInfo for a candidate.
func (f *Finder) resolvedInfo(ch *providers.Channel, p *providers.Provider, keyFP, modelID string) models.ModelInfo {
	base := f.store.BaseInfo(ch.ID, keyFP, modelID)
	return providers.ResolveInfo(p, ch, base)
}
