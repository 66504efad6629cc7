// Package dispatch sends a routed request to its winning channel and fails
// over through the ranked backups on retryable upstream errors.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ferro-labs/llm-router/internal/blacklist"
	"github.com/ferro-labs/llm-router/internal/health"
	"github.com/ferro-labs/llm-router/internal/metrics"
	"github.com/ferro-labs/llm-router/providers"
)

// DefaultMaxAttempts bounds failover within one request.
const DefaultMaxAttempts = 3

// ProviderSource resolves provider config by name.
type ProviderSource interface {
	Provider(name string) *providers.Provider
}

// Dispatcher owns the upstream data path: adapter selection, credential
// attachment, the HTTP call, response translation, and outcome recording.
type Dispatcher struct {
	adapters  *providers.AdapterRegistry
	auth      *providers.Authenticator
	client    *http.Client
	health    *health.Tracker
	blacklist *blacklist.Blacklist
	log       *slog.Logger

	// MaxAttempts bounds failover; zero means DefaultMaxAttempts.
	MaxAttempts int
	// Referer and Title feed the openrouter attribution headers when set.
	Referer string
	Title   string
}

// New creates a Dispatcher.
func New(adapters *providers.AdapterRegistry, auth *providers.Authenticator, client *http.Client, h *health.Tracker, bl *blacklist.Blacklist, log *slog.Logger) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		adapters:  adapters,
		auth:      auth,
		client:    client,
		health:    h,
		blacklist: bl,
		log:       log,
	}
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Complete sends a non-streaming request through the ranked candidates.
// Retryable failures advance to the next candidate; the attempts list is
// reported when every candidate fails.
func (d *Dispatcher) Complete(ctx context.Context, req providers.Request, candidates []providers.Candidate, src ProviderSource, strategy string) (*providers.Response, error) {
	var attempts []providers.Attempt
	for _, cand := range candidates {
		if len(attempts) >= d.maxAttempts() {
			break
		}
		resp, err := d.completeOne(ctx, req, cand, src, strategy)
		if err == nil {
			return resp, nil
		}
		kind := providers.KindOf(err)
		attempts = append(attempts, providers.Attempt{ChannelID: cand.Channel.ID, Model: cand.Model, Kind: kind})
		d.log.Warn("dispatch attempt failed",
			"channel", cand.Channel.ID, "model", cand.Model, "kind", kind, "error", err)
		if !kind.Retryable() {
			return nil, err
		}
		metrics.FailoversTotal.WithLabelValues(string(kind)).Inc()
	}
	if len(attempts) == 0 {
		return nil, providers.NewRouteError(providers.KindNoCandidates, "no candidate to dispatch")
	}
	return nil, providers.ExhaustedError(attempts)
}

func (d *Dispatcher) completeOne(ctx context.Context, req providers.Request, cand providers.Candidate, src ProviderSource, strategy string) (*providers.Response, error) {
	p := src.Provider(cand.Channel.Provider)
	adapter := d.adapters.ForChannel(p, cand.Channel)

	start := time.Now()
	var resp *providers.Response
	var err error
	if native, ok := adapter.(providers.NativeCaller); ok {
		resp, err = native.Complete(ctx, req, cand.Model, p, cand.Channel)
	} else {
		resp, err = d.httpComplete(ctx, req, cand, p, adapter, strategy)
	}
	d.record(cand, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if resp.ID == "" {
		resp.ID = "chatcmpl-" + uuid.NewString()
	}
	resp.Provider = cand.Channel.Provider
	resp.Channel = cand.Channel.ID
	return resp, nil
}

func (d *Dispatcher) httpComplete(ctx context.Context, req providers.Request, cand providers.Candidate, p *providers.Provider, adapter providers.Adapter, strategy string) (*providers.Response, error) {
	httpResp, err := d.send(ctx, req, cand, p, adapter, strategy, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.WrapRouteError(providers.KindUpstreamServerError, err, "read upstream body")
	}
	if httpResp.StatusCode != http.StatusOK {
		kind := adapter.ClassifyError(httpResp.StatusCode, body)
		return nil, providers.NewRouteError(kind, "upstream %s returned %d", cand.Channel.ID, httpResp.StatusCode)
	}
	return adapter.TransformResponse(body, cand.Model)
}

// send builds and issues the upstream POST shared by both paths.
func (d *Dispatcher) send(ctx context.Context, req providers.Request, cand providers.Candidate, p *providers.Provider, adapter providers.Adapter, strategy string, stream bool) (*http.Response, error) {
	req.Stream = stream
	body, path, err := adapter.TransformRequest(req, cand.Model, strategy)
	if err != nil {
		return nil, providers.WrapRouteError(providers.KindRequestMalformed, err, "transform request")
	}
	base := providers.EffectiveBaseURL(p, cand.Channel)
	if base == "" {
		return nil, providers.NewRouteError(providers.KindConfigError, "channel %s has no endpoint", cand.Channel.ID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	headers, err := d.auth.Headers(ctx, p, cand.Channel)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if or, ok := adapter.(*providers.OpenRouterAdapter); ok {
		for k, v := range or.AttributionHeaders(d.Referer, d.Title) {
			httpReq.Header.Set(k, v)
		}
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, providers.WrapRouteError(providers.KindUpstreamTimeout, err, "upstream call cancelled")
		}
		return nil, providers.WrapRouteError(providers.KindUpstreamTimeout, err, "upstream call failed")
	}
	return httpResp, nil
}

func (d *Dispatcher) record(cand providers.Candidate, err error, latency time.Duration) {
	if err == nil {
		d.health.Record(cand.Channel.ID, true, latency, "")
		return
	}
	kind := providers.KindOf(err)
	d.health.Record(cand.Channel.ID, false, latency, kind)
	d.blacklist.Trip(cand.Channel.ID, cand.Model, kind)
}
