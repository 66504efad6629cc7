// Package llmrouter routes OpenAI-shaped chat completion requests addressed
// to virtual models onto concrete upstream channels. The pipeline is
// discovery (virtual model to candidates), filtering (credential validity,
// blacklist, health, request constraints), scoring (strategy-weighted
// ranking), and dispatch with failover. Routing decisions are memoised in a
// fingerprint-keyed cache and background tasks keep the model registry,
// pricing, and health state fresh.
package llmrouter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ferro-labs/llm-router/internal/blacklist"
	"github.com/ferro-labs/llm-router/internal/discovery"
	"github.com/ferro-labs/llm-router/internal/dispatch"
	"github.com/ferro-labs/llm-router/internal/health"
	"github.com/ferro-labs/llm-router/internal/metrics"
	"github.com/ferro-labs/llm-router/internal/routecache"
	"github.com/ferro-labs/llm-router/internal/scheduler"
	"github.com/ferro-labs/llm-router/internal/scoring"
	"github.com/ferro-labs/llm-router/internal/tags"
	"github.com/ferro-labs/llm-router/models"
	"github.com/ferro-labs/llm-router/providers"
)

// Router is the routing facade: one instance owns the registry, the scoring
// engine, the route cache, health and blacklist state, the dispatcher, and
// the background scheduler.
type Router struct {
	cfg      *Config
	log      *slog.Logger
	registry *ChannelRegistry

	store   *models.Store
	persist models.Persistence

	finder     *discovery.Finder
	engine     *scoring.Engine
	strategies map[string]scoring.Strategy
	cache      *routecache.Cache
	health     *health.Tracker
	keys       *health.KeyStates
	blacklist  *blacklist.Blacklist
	adapters   *providers.AdapterRegistry
	auth       *providers.Authenticator
	client     *http.Client
	dispatcher *dispatch.Dispatcher
	sched      *scheduler.Scheduler
}

// New builds a Router from validated config.
func New(cfg *Config, log *slog.Logger) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg.withDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	r := &Router{
		cfg:      cfg,
		log:      log,
		registry: NewChannelRegistry(cfg),
		store:    models.NewStore(),
		persist:  models.Persistence{Dir: cfg.CacheDir},
		cache:    routecache.New(cfg.Routing.CacheTTL.D(), cfg.Routing.CacheSize),
		health:   health.NewTracker(),
		keys:     health.NewKeyStates(),
		adapters: providers.NewAdapterRegistry(),
		auth:     providers.NewAuthenticator(),
	}
	r.strategies = make(map[string]scoring.Strategy, len(cfg.Routing.Strategies))
	for _, s := range cfg.Routing.Strategies {
		r.strategies[s.Name] = s
	}
	r.blacklist = blacklist.New(func(channelID string) {
		r.cache.InvalidateChannel(channelID)
		metrics.BlacklistedPairs.Set(float64(len(r.blacklist.Entries())))
	})
	r.finder = discovery.NewFinder(r.registry, r.store)
	r.engine = scoring.NewEngine(r.health, func(ch *providers.Channel) string {
		return providers.EffectiveBaseURL(r.registry.Provider(ch.Provider), ch)
	})
	r.client = &http.Client{
		Timeout: cfg.Server.RequestTimeout.D(),
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   cfg.Server.ConnectTimeout.D(),
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   cfg.Server.ConnectTimeout.D(),
			ResponseHeaderTimeout: cfg.Server.RequestTimeout.D(),
		},
	}
	r.dispatcher = dispatch.New(r.adapters, r.auth, r.client, r.health, r.blacklist, log)
	r.dispatcher.MaxAttempts = cfg.Routing.MaxRetryAttempts
	r.dispatcher.Referer = cfg.Routing.Referer
	r.dispatcher.Title = cfg.Routing.Title

	r.sched = scheduler.New(log, cfg.Scheduler.Concurrency)
	r.registerTasks()
	return r, nil
}

// Start loads persisted registry state and launches the background scheduler.
// It returns immediately; the scheduler stops when ctx is cancelled.
func (r *Router) Start(ctx context.Context) {
	if n := r.persist.LoadAll(r.store); n > 0 {
		r.log.Info("model snapshots restored", "snapshots", n)
	}
	if states := r.loadHealthSnapshot(); len(states) > 0 {
		r.health.Restore(states)
		r.log.Info("health states restored", "channels", len(states))
	}
	go r.sched.Run(ctx)
}

// Registry exposes the channel registry for the server's admin surface.
func (r *Router) Registry() *ChannelRegistry { return r.registry }

// SetChannelEnabled toggles a channel and drops cached selections that
// reference it. Returns false when the id is unknown.
func (r *Router) SetChannelEnabled(id string, enabled bool) bool {
	if !r.registry.SetEnabled(id, enabled) {
		return false
	}
	r.cache.InvalidateChannel(id)
	return true
}

// channelUsable rechecks a cached primary against the live registry so a
// selection admitted before a disable never dispatches afterwards.
func (r *Router) channelUsable(ch *providers.Channel) bool {
	return ch.Usable(r.registry.Provider(ch.Provider))
}

// resolveStrategy looks up a config-defined strategy before falling back to
// the presets.
func (r *Router) resolveStrategy(name string) (scoring.Strategy, error) {
	if s, ok := r.strategies[name]; ok {
		return s, nil
	}
	return scoring.Preset(name)
}

// Scheduler exposes the background scheduler (Kick, Results).
func (r *Router) Scheduler() *scheduler.Scheduler { return r.sched }

// Store exposes the model snapshot store.
func (r *Router) Store() *models.Store { return r.store }

// RouteResult is one routing decision.
type RouteResult struct {
	// Candidates is the ranked dispatch order.
	Candidates []providers.Candidate
	// Scores carries per-candidate breakdowns; nil when served from cache.
	Scores []scoring.Breakdown
	// Strategy is the resolved strategy name.
	Strategy string
	// Fingerprint identifies the decision in the route cache.
	Fingerprint string
	// FromCache marks a cache hit.
	FromCache bool
}

// Route resolves a request to its ranked candidate list without dispatching.
func (r *Router) Route(ctx context.Context, req *providers.Request) (*RouteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, providers.WrapRouteError(providers.KindRequestMalformed, err, "invalid request")
	}
	// Config-level aliases rewrite the virtual model up front so aliased and
	// canonical spellings share one cache entry.
	if target := r.cfg.Routing.ModelAliases[req.Model]; target != "" && target != req.Model {
		clone := *req
		clone.Model = target
		req = &clone
	}
	strategyName := req.RoutingStrategy
	if strategyName == "" {
		strategyName = r.cfg.Routing.DefaultStrategy
	}
	strategy, err := r.resolveStrategy(strategyName)
	if err != nil {
		return nil, providers.WrapRouteError(providers.KindRequestMalformed, err, "routing_strategy")
	}

	fp := routecache.Fingerprint(req, strategyName)
	if sel := r.cache.Get(fp); sel != nil && r.channelUsable(sel.Candidates[0].Channel) {
		metrics.RouteCacheLookups.WithLabelValues("hit").Inc()
		metrics.RouteDecisions.WithLabelValues("cache").Inc()
		r.log.Debug("route cache hit", "model", req.Model, "uses", sel.UseCount)
		return &RouteResult{Candidates: sel.Candidates, Strategy: strategyName, Fingerprint: fp, FromCache: true}, nil
	}
	metrics.RouteCacheLookups.WithLabelValues("miss").Inc()
	metrics.RouteDecisions.WithLabelValues(discovery.PathOf(req.Model)).Inc()

	cands, err := r.finder.Find(req.Model)
	if err != nil {
		return nil, err
	}
	metrics.CandidatesFound.Observe(float64(len(cands)))
	filtered, err := r.filter(req, cands)
	if err != nil {
		return nil, err
	}

	ranked := r.engine.Rank(req, filtered, strategy)
	result := &RouteResult{
		Candidates:  make([]providers.Candidate, 0, len(ranked)),
		Scores:      make([]scoring.Breakdown, 0, len(ranked)),
		Strategy:    strategyName,
		Fingerprint: fp,
	}
	for _, s := range ranked {
		result.Candidates = append(result.Candidates, s.Candidate)
		result.Scores = append(result.Scores, s.Score)
	}
	r.cache.Put(fp, result.Candidates, 0)

	top := ranked[0]
	r.log.Debug("routed",
		"model", req.Model, "strategy", strategyName,
		"candidates", len(ranked),
		"winner_channel", top.Channel.ID, "winner_model", top.Model,
		"winner_total", top.Score.Total, "winner_bucket", top.Score.Bucket)
	return result, nil
}

// filter applies the request-independent and request-specific exclusions in
// order. It reports a capability mismatch only when capability requirements
// alone emptied the field, so callers can tell "nothing can do this" from
// "nothing is up right now".
func (r *Router) filter(req *providers.Request, cands []providers.Candidate) ([]providers.Candidate, error) {
	if len(cands) == 0 {
		return nil, providers.NewRouteError(providers.KindNoCandidates, "no channel serves %q", req.Model)
	}
	excluded := excludedSet(req)

	out := make([]providers.Candidate, 0, len(cands))
	capDropped := 0
	capDroppedAllLocal := true
	for _, cand := range cands {
		if !r.admit(req, excluded, cand) {
			continue
		}
		if !hasCapabilities(cand, req.RequiredCapabilities) {
			capDropped++
			if !r.isLocal(cand) {
				capDroppedAllLocal = false
			}
			continue
		}
		out = append(out, cand)
	}

	if len(out) == 0 {
		if capDropped > 0 {
			// A local-only field without the capability still gets a shot at
			// cloud models from the same family.
			if capDroppedAllLocal {
				if subs := r.cloudSubstitutes(req, excluded); len(subs) > 0 {
					return subs, nil
				}
			}
			return nil, providers.NewRouteError(providers.KindCapabilityMismatch,
				"no candidate supports %s", strings.Join(req.RequiredCapabilities, ","))
		}
		return nil, providers.NewRouteError(providers.KindNoCandidates,
			"all candidates for %q are unavailable", req.Model)
	}

	// prefer_local narrows to local candidates when any survive; otherwise the
	// cloud candidates stand in and the local factor stays a scoring nudge.
	if req.PreferLocal {
		locals := make([]providers.Candidate, 0, len(out))
		for _, cand := range out {
			if r.isLocal(cand) {
				locals = append(locals, cand)
			}
		}
		if len(locals) > 0 {
			out = locals
		}
	}
	return out, nil
}

// admit applies the per-candidate checks shared by the main filter and the
// cloud-substitute search: key validity, blacklist, health, provider
// exclusion, context floor, and cost ceiling. Capabilities are checked
// separately so the caller can attribute an empty field.
func (r *Router) admit(req *providers.Request, excluded map[string]bool, cand providers.Candidate) bool {
	ch := cand.Channel
	if !r.keys.Usable(ch.ID, ch.KeyFingerprint()) {
		return false
	}
	if r.blacklist.Blocked(ch.ID, cand.Model) {
		return false
	}
	if r.health.Score(ch.ID) < r.cfg.Routing.HealthThreshold {
		return false
	}
	if excluded[strings.ToLower(ch.Provider)] {
		return false
	}
	// Unknown context length passes; only a known-too-small window drops.
	if req.MinContext > 0 && cand.Info.Specs.ContextLength > 0 && cand.Info.Specs.ContextLength < req.MinContext {
		return false
	}
	if req.MaxCost > 0 && scoring.EstimateCost(req, cand) > req.MaxCost {
		return false
	}
	return true
}

// cloudSubstitutes widens a plain model name to its tag family and keeps
// only non-local candidates that advertise the required capabilities. Used
// when every direct match was a local model without them; tag and predicate
// queries already state the caller's intent and are not widened.
func (r *Router) cloudSubstitutes(req *providers.Request, excluded map[string]bool) []providers.Candidate {
	if discovery.PathOf(req.Model) != "plain" {
		return nil
	}
	terms := tags.Extract(req.Model)
	if len(terms) == 0 {
		return nil
	}
	cands := r.finder.ByAnyTag(terms)
	var out []providers.Candidate
	for _, cand := range cands {
		if r.isLocal(cand) {
			continue
		}
		if !r.admit(req, excluded, cand) {
			continue
		}
		if !hasCapabilities(cand, req.RequiredCapabilities) {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// isLocal reports whether a candidate runs on local inference, by ModelInfo
// flag or by endpoint host.
func (r *Router) isLocal(cand providers.Candidate) bool {
	base := providers.EffectiveBaseURL(r.registry.Provider(cand.Channel.Provider), cand.Channel)
	return cand.Info.IsLocal || scoring.IsLocalURL(base)
}

func excludedSet(req *providers.Request) map[string]bool {
	excluded := make(map[string]bool, len(req.ExcludedProviders))
	for _, p := range req.ExcludedProviders {
		excluded[strings.ToLower(p)] = true
	}
	return excluded
}

func hasCapabilities(cand providers.Candidate, required []string) bool {
	for _, name := range required {
		if !cand.Info.Capabilities.Has(strings.ToLower(strings.TrimSpace(name))) {
			return false
		}
	}
	return true
}

// Complete routes and dispatches a non-streaming request.
func (r *Router) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	start := time.Now()
	result, err := r.Route(ctx, req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("", req.Model, "rejected").Inc()
		return nil, err
	}
	resp, err := r.dispatcher.Complete(ctx, *req, result.Candidates, r.registry, result.Strategy)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("", req.Model, "error").Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(resp.Channel, resp.Model, "success").Inc()
	metrics.RequestDuration.WithLabelValues(resp.Channel, resp.Model).Observe(time.Since(start).Seconds())
	metrics.TokensInput.WithLabelValues(resp.Channel, resp.Model).Add(float64(resp.Usage.PromptTokens))
	metrics.TokensOutput.WithLabelValues(resp.Channel, resp.Model).Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// Stream routes and opens a streaming dispatch. The caller owns draining the
// returned channel.
func (r *Router) Stream(ctx context.Context, req *providers.Request) (*dispatch.StreamResult, error) {
	result, err := r.Route(ctx, req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("", req.Model, "rejected").Inc()
		return nil, err
	}
	sr, err := r.dispatcher.Stream(ctx, *req, result.Candidates, r.registry, result.Strategy)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("", req.Model, "error").Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(sr.Candidate.Channel.ID, sr.Candidate.Model, "success").Inc()
	return sr, nil
}

// Status is the operational state document served by the health endpoint.
type Status struct {
	Channels  []health.State     `json:"channels"`
	Keys      []health.KeyState  `json:"keys"`
	Blacklist []blacklist.Entry  `json:"blacklist"`
	Tasks     []scheduler.Result `json:"tasks"`
	Cache     CacheStats         `json:"route_cache"`
	Snapshots int                `json:"model_snapshots"`
}

// CacheStats summarises the route cache counters.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Status assembles the current operational state.
func (r *Router) Status() Status {
	hits, misses, size := r.cache.Stats()
	states := r.health.Snapshot()
	for _, st := range states {
		metrics.ChannelHealth.WithLabelValues(st.ChannelID).Set(st.Score(time.Now()))
	}
	return Status{
		Channels:  states,
		Keys:      r.keys.Snapshot(),
		Blacklist: r.blacklist.Entries(),
		Tasks:     r.sched.Results(),
		Cache:     CacheStats{Hits: hits, Misses: misses, Size: size},
		Snapshots: r.store.Len(),
	}
}
