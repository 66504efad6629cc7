// Package callers manages the API keys that clients present to the router's
// own ingress. These are distinct from channel credentials: a caller key
// grants access to the routing API, never to an upstream provider.
package callers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Key scopes.
const (
	ScopeRoute = "route" // may call the completion endpoints
	ScopeAdmin = "admin" // may manage keys and channels
)

// Key is one caller credential.
type Key struct {
	ID        string     `json:"id"`
	Secret    string     `json:"secret"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UseCount  int64      `json:"use_count"`
}

// Active reports whether the key may authenticate right now.
func (k *Key) Active(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}

// HasScope reports whether the key carries the scope.
func (k *Key) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Masked returns a copy safe for listing: the secret is truncated.
func (k *Key) Masked() Key {
	out := *k
	if len(out.Secret) > 8 {
		out.Secret = out.Secret[:8] + "..."
	}
	return out
}

// Store is the caller-key storage interface. MemoryStore backs tests and
// single-node deployments; SQLStore persists across restarts.
type Store interface {
	Create(name string, scopes []string, expiresAt *time.Time) (*Key, error)
	Validate(secret string) (*Key, bool)
	List() ([]Key, error)
	Revoke(id string) error
	Delete(id string) error
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key secret: %w", err)
	}
	return "lr-" + hex.EncodeToString(b), nil
}

func newID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Key
	bySecret map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Key),
		bySecret: make(map[string]string),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(name string, scopes []string, expiresAt *time.Time) (*Key, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeRoute}
	}
	k := &Key{
		ID:        id,
		Secret:    secret,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = k
	s.bySecret[secret] = id
	return k, nil
}

// Validate implements Store. Successful validation bumps the use counter.
func (s *MemoryStore) Validate(secret string) (*Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySecret[secret]
	if !ok {
		return nil, false
	}
	k := s.byID[id]
	if !k.Active(time.Now()) {
		return nil, false
	}
	k.UseCount++
	copied := *k
	return &copied, true
}

// List implements Store with secrets masked.
func (s *MemoryStore) List() ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.byID))
	for _, k := range s.byID {
		out = append(out, k.Masked())
	}
	return out, nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("key not found: %s", id)
	}
	now := time.Now()
	k.RevokedAt = &now
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("key not found: %s", id)
	}
	delete(s.bySecret, k.Secret)
	delete(s.byID, id)
	return nil
}
