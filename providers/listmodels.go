package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ListModels fetches the model ids visible to a channel's credential from the
// adapter-appropriate models endpoint. The raw body is returned alongside the
// ids so the registry can keep it for debugging.
func ListModels(ctx context.Context, client *http.Client, auth *Authenticator, p *Provider, ch *Channel, adapter Adapter) ([]string, []byte, error) {
	lister, ok := adapter.(ModelLister)
	if !ok {
		return nil, nil, fmt.Errorf("adapter %s cannot list models", adapter.Kind())
	}
	base := EffectiveBaseURL(p, ch)
	if base == "" {
		return nil, nil, NewRouteError(KindConfigError, "channel %s has no endpoint", ch.ID)
	}

	// Probe endpoints in fallback order when the provider lists several and
	// the channel carries no override.
	urls := []string{base}
	if ch.BaseURL == "" && p != nil && len(p.BaseURLs) > 1 {
		urls = urls[:0]
		for _, u := range p.BaseURLs {
			urls = append(urls, strings.TrimRight(u, "/"))
		}
	}

	var lastErr error
	for _, base := range urls {
		ids, raw, err := fetchModelList(ctx, client, auth, p, ch, lister, base)
		if err == nil {
			return ids, raw, nil
		}
		lastErr = err
		// Auth failures will repeat on every endpoint; stop probing.
		if KindOf(err) == KindAuthInvalid {
			break
		}
	}
	return nil, nil, lastErr
}

func fetchModelList(ctx context.Context, client *http.Client, auth *Authenticator, p *Provider, ch *Channel, lister ModelLister, base string) ([]string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+lister.ListModelsPath(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build model list request: %w", err)
	}
	headers, err := auth.Headers(ctx, p, ch)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, WrapRouteError(KindUpstreamTimeout, err, "model list request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read model list response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := lister.ClassifyError(resp.StatusCode, body)
		return nil, nil, NewRouteError(kind, "model list returned %d", resp.StatusCode)
	}

	ids, err := lister.ParseModelList(body)
	if err != nil {
		return nil, nil, err
	}
	return ids, body, nil
}
