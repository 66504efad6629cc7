package providers

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2/clientcredentials"
)

// Authenticator builds the authentication headers for an upstream call
// according to the provider's auth mode. OAuth2 token sources are cached per
// provider and refresh themselves.
type Authenticator struct {
	mu      sync.Mutex
	sources map[string]*clientcredentials.Config
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator() *Authenticator {
	return &Authenticator{sources: make(map[string]*clientcredentials.Config)}
}

// Headers returns the auth headers for dispatching through ch. The anthropic
// vendor headers are the only vendor-specific mode currently needed.
func (a *Authenticator) Headers(ctx context.Context, p *Provider, ch *Channel) (map[string]string, error) {
	mode := AuthBearer
	if p != nil && p.Auth != "" {
		mode = p.Auth
	}
	switch mode {
	case AuthBearer:
		if ch.APIKey == "" {
			return map[string]string{}, nil
		}
		return map[string]string{"Authorization": "Bearer " + ch.APIKey}, nil
	case AuthAPIKey:
		return map[string]string{"api-key": ch.APIKey}, nil
	case AuthVendor:
		return map[string]string{
			"x-api-key":         ch.APIKey,
			"anthropic-version": "2023-06-01",
		}, nil
	case AuthOAuth2:
		return a.oauthHeaders(ctx, p)
	case AuthNone:
		return map[string]string{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

func (a *Authenticator) oauthHeaders(ctx context.Context, p *Provider) (map[string]string, error) {
	if p == nil || p.TokenURL == "" {
		return nil, NewRouteError(KindConfigError, "oauth2 auth requires token_url")
	}

	a.mu.Lock()
	cfg, ok := a.sources[p.Name]
	if !ok {
		cfg = &clientcredentials.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			TokenURL:     p.TokenURL,
			Scopes:       p.Scopes,
		}
		a.sources[p.Name] = cfg
	}
	a.mu.Unlock()

	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, WrapRouteError(KindAuthInvalid, err, "oauth2 token fetch failed")
	}
	return map[string]string{"Authorization": tok.Type() + " " + tok.AccessToken}, nil
}
