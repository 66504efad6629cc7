package dispatch

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ferro-labs/llm-router/internal/metrics"
	"github.com/ferro-labs/llm-router/providers"
)

// StreamResult is a live upstream stream plus the candidate serving it.
type StreamResult struct {
	Chunks    <-chan providers.StreamChunk
	Candidate providers.Candidate
}

// Stream opens a streaming completion. Failover happens only while
// connecting: once the upstream starts emitting, errors surface in-band on
// the chunk channel. Cancelling ctx closes the upstream response.
func (d *Dispatcher) Stream(ctx context.Context, req providers.Request, candidates []providers.Candidate, src ProviderSource, strategy string) (*StreamResult, error) {
	var attempts []providers.Attempt
	for _, cand := range candidates {
		if len(attempts) >= d.maxAttempts() {
			break
		}
		result, err := d.streamOne(ctx, req, cand, src, strategy)
		if err == nil {
			return result, nil
		}
		kind := providers.KindOf(err)
		attempts = append(attempts, providers.Attempt{ChannelID: cand.Channel.ID, Model: cand.Model, Kind: kind})
		d.log.Warn("stream attempt failed",
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

func (d *Dispatcher) streamOne(ctx context.Context, req providers.Request, cand providers.Candidate, src ProviderSource, strategy string) (*StreamResult, error) {
	p := src.Provider(cand.Channel.Provider)
	adapter := d.adapters.ForChannel(p, cand.Channel)

	if native, ok := adapter.(providers.NativeCaller); ok {
		start := time.Now()
		chunks, err := native.CompleteStream(ctx, req, cand.Model, p, cand.Channel)
		d.record(cand, err, time.Since(start))
		if err != nil {
			return nil, err
		}
		return &StreamResult{Chunks: chunks, Candidate: cand}, nil
	}

	start := time.Now()
	httpResp, err := d.send(ctx, req, cand, p, adapter, strategy, true)
	if err != nil {
		d.record(cand, err, time.Since(start))
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
		_ = httpResp.Body.Close()
		kind := adapter.ClassifyError(httpResp.StatusCode, body)
		err := providers.NewRouteError(kind, "upstream %s returned %d", cand.Channel.ID, httpResp.StatusCode)
		d.record(cand, err, time.Since(start))
		return nil, err
	}

	out := make(chan providers.StreamChunk)
	go d.relay(ctx, httpResp.Body, adapter, cand, out, start)
	return &StreamResult{Chunks: out, Candidate: cand}, nil
}

// relay reads the SSE body line by line, feeds "data: " payloads through the
// adapter, and forwards canonical chunks. Health is recorded once, with the
// time to stream completion.
func (d *Dispatcher) relay(ctx context.Context, body io.ReadCloser, adapter providers.Adapter, cand providers.Candidate, out chan<- providers.StreamChunk, start time.Time) {
	defer close(out)
	defer func() { _ = body.Close() }()

	st := &providers.StreamState{
		ID:    "chatcmpl-" + uuid.NewString(),
		Model: cand.Model,
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	emit := func(chunk providers.StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		chunks, done, err := adapter.ParseStreamLine(st, data)
		if err != nil {
			d.record(cand, err, time.Since(start))
			emit(providers.StreamChunk{Error: err})
			return
		}
		for _, chunk := range chunks {
			if !emit(chunk) {
				d.record(cand, ctx.Err(), time.Since(start))
				return
			}
		}
		if done {
			d.record(cand, nil, time.Since(start))
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		wrapped := providers.WrapRouteError(providers.KindUpstreamServerError, err, "stream read failed")
		d.record(cand, wrapped, time.Since(start))
		emit(providers.StreamChunk{Error: wrapped})
		return
	}
	// Upstream closed without a stop event; treat a clean EOF as success.
	d.record(cand, nil, time.Since(start))
}
