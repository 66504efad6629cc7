package llmrouter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ferro-labs/llm-router/internal/health"
	"github.com/ferro-labs/llm-router/internal/metrics"
	"github.com/ferro-labs/llm-router/internal/scheduler"
	"github.com/ferro-labs/llm-router/models"
	"github.com/ferro-labs/llm-router/providers"
)

// Task names, stable identifiers for Kick and the health endpoint.
const (
	TaskDiscovery     = "model-discovery"
	TaskPricing       = "pricing-refresh"
	TaskHealthProbe   = "health-probe"
	TaskKeyValidation = "key-validation"
	TaskCleanup       = "cache-cleanup"
)

// snapshotRetention is how long unreferenced cache files survive cleanup.
const snapshotRetention = 7 * 24 * time.Hour

func (r *Router) registerTasks() {
	disabled := make(map[string]bool, len(r.cfg.Scheduler.Disabled))
	for _, name := range r.cfg.Scheduler.Disabled {
		disabled[name] = true
	}
	register := func(name string, interval time.Duration, runOnStart bool, run func(ctx context.Context) error) {
		if disabled[name] {
			return
		}
		r.sched.Register(&scheduler.Task{
			Name:       name,
			Interval:   interval,
			RunOnStart: runOnStart,
			Run: func(ctx context.Context) error {
				err := run(ctx)
				status := "success"
				if err != nil {
					status = "error"
				}
				metrics.SchedulerTaskRuns.WithLabelValues(name, status).Inc()
				return err
			},
		})
	}
	register(TaskDiscovery, r.cfg.Scheduler.DiscoveryInterval.D(), true, r.runDiscovery)
	register(TaskPricing, r.cfg.Scheduler.PricingInterval.D(), false, r.runPricingRefresh)
	register(TaskHealthProbe, r.cfg.Scheduler.HealthInterval.D(), false, r.runHealthProbe)
	register(TaskKeyValidation, r.cfg.Scheduler.KeyValidationInterval.D(), false, r.runKeyValidation)
	register(TaskCleanup, r.cfg.Scheduler.CleanupInterval.D(), false, r.runCleanup)
}

// runDiscovery refreshes the model snapshot of every enabled channel whose
// adapter can enumerate models. Failures are per-channel; the task only
// reports the last one so a single dead upstream cannot hide the rest.
func (r *Router) runDiscovery(ctx context.Context) error {
	var lastErr error
	for _, ch := range r.registry.Enabled() {
		p := r.registry.Provider(ch.Provider)
		adapter := r.adapters.ForChannel(p, ch)
		if _, ok := adapter.(providers.ModelLister); !ok {
			continue
		}

		ids, raw, err := providers.ListModels(ctx, r.client, r.auth, p, ch, adapter)
		if err != nil {
			lastErr = err
			r.log.Warn("model discovery failed", "channel", ch.ID, "error", err)
			if providers.KindOf(err) == providers.KindAuthInvalid {
				r.keys.MarkInvalid(ch.ID, ch.KeyFingerprint(), providers.KindAuthInvalid)
			}
			continue
		}
		r.keys.MarkValid(ch.ID, ch.KeyFingerprint())

		snap := &models.Snapshot{
			ChannelID:      ch.ID,
			KeyFingerprint: ch.KeyFingerprint(),
			ModelIDs:       ids,
			Infos:          make(map[string]models.ModelInfo, len(ids)),
			Raw:            raw,
		}
		for _, id := range ids {
			snap.Infos[id] = models.InferFromID(ch.ID, id)
		}
		r.store.Replace(snap)
		r.cache.InvalidateChannel(ch.ID)
		if err := r.persist.WriteSnapshot(snap); err != nil {
			r.log.Warn("snapshot persist failed", "channel", ch.ID, "error", err)
		}
		r.log.Info("model snapshot refreshed", "channel", ch.ID, "models", len(ids), "tier", snap.Tier)
	}
	return lastErr
}

// runPricingRefresh re-scrapes pricing from channels whose adapter embeds
// prices in the model list (siliconflow) and folds it into their snapshots.
func (r *Router) runPricingRefresh(ctx context.Context) error {
	var lastErr error
	for _, ch := range r.registry.Enabled() {
		p := r.registry.Provider(ch.Provider)
		adapter := r.adapters.ForChannel(p, ch)
		sf, ok := adapter.(*providers.SiliconFlowAdapter)
		if !ok {
			continue
		}

		_, raw, err := providers.ListModels(ctx, r.client, r.auth, p, ch, adapter)
		if err != nil {
			lastErr = err
			r.log.Warn("pricing refresh failed", "channel", ch.ID, "error", err)
			continue
		}
		table := sf.ParsePricing(raw)
		if len(table) == 0 {
			continue
		}

		snap, ok := r.store.Snapshot(ch.ID, ch.KeyFingerprint())
		if !ok {
			continue
		}
		updated := &models.Snapshot{
			ChannelID:      snap.ChannelID,
			KeyFingerprint: snap.KeyFingerprint,
			ModelIDs:       snap.ModelIDs,
			Infos:          make(map[string]models.ModelInfo, len(snap.Infos)),
			Raw:            raw,
			Tier:           snap.Tier,
		}
		for id, info := range snap.Infos {
			if pricing, ok := table[id]; ok {
				info.Pricing = pricing
			}
			updated.Infos[id] = info
		}
		r.store.Replace(updated)
		r.cache.InvalidateChannel(ch.ID)
		if err := r.persist.WritePricing(ch.ID, table); err != nil {
			r.log.Warn("pricing persist failed", "channel", ch.ID, "error", err)
		}
		r.log.Info("pricing refreshed", "channel", ch.ID, "models", len(table))
	}
	return lastErr
}

// runHealthProbe sends a one-token completion through every idle
// OpenAI-compatible channel so reliability scores stay meaningful for
// channels that see no organic traffic.
func (r *Router) runHealthProbe(ctx context.Context) error {
	var lastErr error
	for _, ch := range r.registry.Enabled() {
		p := r.registry.Provider(ch.Provider)
		adapter := r.adapters.ForChannel(p, ch)
		switch adapter.Kind() {
		case providers.KindOpenAI, providers.KindOpenRouter, providers.KindSiliconFlow:
		default:
			continue
		}
		model := r.probeModel(ch)
		if model == "" {
			continue
		}
		if err := r.probeChannel(ctx, ch, p, model); err != nil {
			lastErr = err
		}
	}
	r.persistHealthSnapshot()
	return lastErr
}

// probeModel picks the model to probe a channel with: the declared name when
// concrete, otherwise the first snapshot model.
func (r *Router) probeModel(ch *providers.Channel) string {
	if ch.ModelName != "" && ch.ModelName != "auto" {
		if target, ok := ch.ModelAliases[ch.ModelName]; ok {
			return target
		}
		return ch.ModelName
	}
	if snap, ok := r.store.AnyForChannel(ch.ID); ok && len(snap.ModelIDs) > 0 {
		return snap.ModelIDs[0]
	}
	if len(ch.ConfiguredModels) > 0 {
		return ch.ConfiguredModels[0]
	}
	return ""
}

func (r *Router) probeChannel(ctx context.Context, ch *providers.Channel, p *providers.Provider, model string) error {
	base := providers.EffectiveBaseURL(p, ch)
	if base == "" {
		return nil
	}
	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithHTTPClient(r.client),
		option.WithMaxRetries(0),
	}
	if ch.APIKey != "" {
		opts = append(opts, option.WithAPIKey(ch.APIKey))
	}
	client := openai.NewClient(opts...)

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	start := time.Now()
	_, err := client.Chat.Completions.New(probeCtx, openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		MaxTokens: openai.Int(1),
	})
	latency := time.Since(start)

	if err != nil {
		kind := probeErrorKind(err)
		r.health.Record(ch.ID, false, latency, kind)
		r.log.Warn("health probe failed", "channel", ch.ID, "model", model, "kind", kind, "error", err)
		return err
	}
	r.health.Record(ch.ID, true, latency, "")
	return nil
}

func probeErrorKind(err error) providers.ErrorKind {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return providers.ClassifyStatus(apierr.StatusCode)
	}
	return providers.KindUpstreamTimeout
}

// runKeyValidation revalidates credentials that are due, clearing permanent
// blacklist entries when a key recovers.
func (r *Router) runKeyValidation(ctx context.Context) error {
	var lastErr error
	for _, ch := range r.registry.Enabled() {
		if ch.APIKey == "" {
			continue
		}
		fp := ch.KeyFingerprint()
		if !r.keys.Due(ch.ID, fp) {
			continue
		}
		p := r.registry.Provider(ch.Provider)
		adapter := r.adapters.ForChannel(p, ch)
		if _, ok := adapter.(providers.ModelLister); !ok {
			continue
		}

		_, _, err := providers.ListModels(ctx, r.client, r.auth, p, ch, adapter)
		if err != nil {
			lastErr = err
			r.keys.MarkInvalid(ch.ID, fp, providers.KindOf(err))
			r.log.Warn("key validation failed", "channel", ch.ID, "key_fp", fp, "error", err)
			continue
		}
		r.keys.MarkValid(ch.ID, fp)
		r.blacklist.ClearChannel(ch.ID)
		r.cache.InvalidateChannel(ch.ID)
		r.log.Info("key validated", "channel", ch.ID, "key_fp", fp)
	}
	if err := r.persist.WriteHealth("keys", r.keys.Snapshot()); err != nil {
		r.log.Warn("key state persist failed", "error", err)
	}
	return lastErr
}

// runCleanup sweeps expired route-cache and blacklist entries and prunes
// stale persisted files.
func (r *Router) runCleanup(_ context.Context) error {
	sweptCache := r.cache.Sweep()
	sweptBL := r.blacklist.Sweep()
	metrics.BlacklistedPairs.Set(float64(len(r.blacklist.Entries())))
	removed := r.persist.Cleanup(snapshotRetention)
	r.persistHealthSnapshot()
	r.log.Info("cleanup done",
		"cache_swept", sweptCache, "blacklist_swept", sweptBL, "files_removed", removed)
	return nil
}

func (r *Router) persistHealthSnapshot() {
	if err := r.persist.WriteHealth("channels", r.health.Snapshot()); err != nil {
		r.log.Warn("health persist failed", "error", err)
	}
}

// loadHealthSnapshot reads the persisted channel health document, if any.
func (r *Router) loadHealthSnapshot() []health.State {
	if r.cfg.CacheDir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(r.cfg.CacheDir, "health", "channels.json"))
	if err != nil {
		return nil
	}
	var doc struct {
		Result []health.State `json:"result"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.Result
}
