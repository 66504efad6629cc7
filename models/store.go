package models

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tier is the heuristic account tier behind an api key, guessed from the
// shape of the model list the key can see.
type Tier string

// Tier constants.
const (
	TierUnknown Tier = ""
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// Snapshot is the cached upstream model list for one (channel, key) pair.
// Snapshots are immutable once stored; updates replace the whole value.
type Snapshot struct {
	ChannelID      string               `json:"channel_id"`
	KeyFingerprint string               `json:"key_fingerprint"`
	ModelIDs       []string             `json:"model_ids"`
	Infos          map[string]ModelInfo `json:"infos"`
	// Raw preserves the upstream response for debugging.
	Raw       json.RawMessage `json:"raw,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Tier      Tier            `json:"tier,omitempty"`
}

// Has reports whether the snapshot contains the exact model id.
func (s *Snapshot) Has(modelID string) bool {
	_, ok := s.Infos[modelID]
	return ok
}

// Info returns the base ModelInfo for modelID, if present.
func (s *Snapshot) Info(modelID string) (ModelInfo, bool) {
	info, ok := s.Infos[modelID]
	return info, ok
}

type snapKey struct {
	channelID string
	keyFP     string
}

// Store keeps per-(channel, key) snapshots. It is safe for concurrent use;
// writers replace snapshot pointers so readers never see partial updates.
type Store struct {
	mu    sync.RWMutex
	snaps map[snapKey]*Snapshot
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{snaps: make(map[snapKey]*Snapshot)}
}

// Replace installs snap as the current snapshot for its (channel, key) pair.
func (st *Store) Replace(snap *Snapshot) {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	if snap.Tier == TierUnknown {
		snap.Tier = GuessTier(snap.ModelIDs)
	}
	st.mu.Lock()
	st.snaps[snapKey{snap.ChannelID, snap.KeyFingerprint}] = snap
	st.mu.Unlock()
}

// Snapshot returns the snapshot for the exact (channel, key) pair.
func (st *Store) Snapshot(channelID, keyFP string) (*Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.snaps[snapKey{channelID, keyFP}]
	return s, ok
}

// AnyForChannel returns some snapshot for the channel when only the channel
// id is known. Deterministic: the lexically smallest key fingerprint wins.
func (st *Store) AnyForChannel(channelID string) (*Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var best *Snapshot
	for k, s := range st.snaps {
		if k.channelID != channelID {
			continue
		}
		if best == nil || k.keyFP < best.KeyFingerprint {
			best = s
		}
	}
	return best, best != nil
}

// All returns every stored snapshot, sorted by (channel, key) for
// deterministic iteration.
func (st *Store) All() []*Snapshot {
	st.mu.RLock()
	out := make([]*Snapshot, 0, len(st.snaps))
	for _, s := range st.snaps {
		out = append(out, s)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		return out[i].KeyFingerprint < out[j].KeyFingerprint
	})
	return out
}

// DropChannel removes every snapshot belonging to the channel.
func (st *Store) DropChannel(channelID string) {
	st.mu.Lock()
	for k := range st.snaps {
		if k.channelID == channelID {
			delete(st.snaps, k)
		}
	}
	st.mu.Unlock()
}

// Len returns the number of stored snapshots.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.snaps)
}

// BaseInfo returns the base-layer ModelInfo for (channel, model): the
// snapshot entry when one exists (preferring the snapshot for keyFP, falling
// back to any snapshot for the channel), otherwise an inference from the
// model id.
func (st *Store) BaseInfo(channelID, keyFP, modelID string) ModelInfo {
	if keyFP != "" {
		if snap, ok := st.Snapshot(channelID, keyFP); ok {
			if info, ok := snap.Info(modelID); ok {
				return info
			}
		}
	}
	if snap, ok := st.AnyForChannel(channelID); ok {
		if info, ok := snap.Info(modelID); ok {
			return info
		}
	}
	return InferFromID(channelID, modelID)
}

// paidPrefixes mark model ids that only show up on paying tiers.
var paidPrefixes = []string{"pro/", "premium/", "paid/", "enterprise/"}

// GuessTier guesses the account tier from the visible model list: paid-tier
// id prefixes imply at least pro, a large list implies premium.
func GuessTier(ids []string) Tier {
	if len(ids) == 0 {
		return TierUnknown
	}
	paid := false
	for _, id := range ids {
		for _, p := range paidPrefixes {
			if strings.HasPrefix(strings.ToLower(id), p) {
				paid = true
			}
		}
	}
	switch {
	case paid && len(ids) > 80:
		return TierPremium
	case paid:
		return TierPro
	case len(ids) > 120:
		return TierPro
	default:
		return TierFree
	}
}
