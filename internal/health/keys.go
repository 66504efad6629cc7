package health

import (
	"sync"
	"time"

	"github.com/ferro-labs/llm-router/providers"
)

const (
	keyBackoffBase = 30 * time.Minute
	keyBackoffCap  = 24 * time.Hour
)

// KeyState tracks one (channel, key-fingerprint) credential. Keys are
// identified by fingerprint only; the secret never enters this package.
type KeyState struct {
	ChannelID    string    `json:"channel_id"`
	KeyFP        string    `json:"key_fp"`
	Valid        bool      `json:"valid"`
	Failures     int       `json:"failures"`
	NextValidate time.Time `json:"next_validate"`
	Penalty      float64   `json:"penalty"`
}

// KeyStates is the registry of credential validity.
type KeyStates struct {
	mu    sync.RWMutex
	keys  map[string]*KeyState
	now   func() time.Time
}

// NewKeyStates creates an empty registry.
func NewKeyStates() *KeyStates {
	return &KeyStates{keys: make(map[string]*KeyState), now: time.Now}
}

func keyID(channelID, keyFP string) string { return channelID + "/" + keyFP }

// MarkValid records a successful validation and clears the backoff.
func (k *KeyStates) MarkValid(channelID, keyFP string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st := k.get(channelID, keyFP)
	st.Valid = true
	st.Failures = 0
	st.Penalty = 0
	st.NextValidate = k.now().Add(keyBackoffBase)
}

// MarkInvalid records a failed validation. Revalidation backs off
// exponentially with the consecutive failure count, capped at 24 h. The
// penalty scales with how decisive the failure kind is: a hard auth rejection
// weighs more than a transient server error.
func (k *KeyStates) MarkInvalid(channelID, keyFP string, kind providers.ErrorKind) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st := k.get(channelID, keyFP)
	st.Valid = false
	st.Failures++
	switch kind {
	case providers.KindAuthInvalid:
		st.Penalty = 1.0
	case providers.KindRateLimited:
		st.Penalty = 0.3
	default:
		st.Penalty = 0.5
	}
	backoff := keyBackoffBase << (st.Failures - 1)
	if backoff > keyBackoffCap || backoff <= 0 {
		backoff = keyBackoffCap
	}
	st.NextValidate = k.now().Add(backoff)
}

// Usable reports whether a credential may be dispatched through. Unknown
// keys are assumed usable until proven otherwise.
func (k *KeyStates) Usable(channelID, keyFP string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	st, ok := k.keys[keyID(channelID, keyFP)]
	if !ok {
		return true
	}
	return st.Valid || st.Failures == 0
}

// Due reports whether the key is due for revalidation.
func (k *KeyStates) Due(channelID, keyFP string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	st, ok := k.keys[keyID(channelID, keyFP)]
	if !ok {
		return true
	}
	return !k.now().Before(st.NextValidate)
}

// Snapshot copies all key states.
func (k *KeyStates) Snapshot() []KeyState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]KeyState, 0, len(k.keys))
	for _, st := range k.keys {
		out = append(out, *st)
	}
	return out
}

func (k *KeyStates) get(channelID, keyFP string) *KeyState {
	id := keyID(channelID, keyFP)
	st, ok := k.keys[id]
	if !ok {
		st = &KeyState{ChannelID: channelID, KeyFP: keyFP, Valid: true}
		k.keys[id] = st
	}
	return st
}
