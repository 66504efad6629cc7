// Package blacklist holds transient (channel, model) exclusions set by the
// dispatcher on classified upstream failures. Entries expire by cool-off;
// auth failures stay until the key validation task clears them.
package blacklist

import (
	"sync"
	"time"

	"github.com/ferro-labs/llm-router/providers"
)

const (
	rateLimitCoolOff = 60 * time.Second
	serverCoolOff    = 30 * time.Second
	maxServerCoolOff = 5 * time.Minute
)

// Entry is one active exclusion.
type Entry struct {
	ChannelID string              `json:"channel_id"`
	ModelID   string              `json:"model_id"`
	Kind      providers.ErrorKind `json:"kind"`
	SetAt     time.Time           `json:"set_at"`
	CoolOff   time.Duration       `json:"cool_off"`
	Permanent bool                `json:"permanent"`
	trips     int
}

// Expired reports whether the entry's cool-off has elapsed.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Permanent && now.After(e.SetAt.Add(e.CoolOff))
}

// Blacklist is the exclusion map. The onSet hook fires after every new or
// refreshed entry so the route cache can invalidate the affected channel.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
	onSet   func(channelID string)
}

// New creates an empty Blacklist. onSet may be nil.
func New(onSet func(channelID string)) *Blacklist {
	return &Blacklist{
		entries: make(map[string]*Entry),
		now:     time.Now,
		onSet:   onSet,
	}
}

func entryKey(channelID, modelID string) string { return channelID + "\x00" + modelID }

// Trip records a dispatch failure. The cool-off depends on the error kind:
// auth is permanent until key revalidation, rate limiting waits a flat 60 s,
// server errors and timeouts start at 30 s and double per consecutive trip
// up to 5 min. Unclassified kinds are ignored.
func (b *Blacklist) Trip(channelID, modelID string, kind providers.ErrorKind) {
	var coolOff time.Duration
	permanent := false
	switch kind {
	case providers.KindAuthInvalid:
		permanent = true
	case providers.KindRateLimited:
		coolOff = rateLimitCoolOff
	case providers.KindUpstreamServerError, providers.KindUpstreamTimeout:
		coolOff = serverCoolOff
	default:
		return
	}

	b.mu.Lock()
	key := entryKey(channelID, modelID)
	prev := b.entries[key]
	trips := 1
	if prev != nil && prev.Kind == kind {
		trips = prev.trips + 1
	}
	if kind == providers.KindUpstreamServerError || kind == providers.KindUpstreamTimeout {
		coolOff = serverCoolOff << (trips - 1)
		if coolOff > maxServerCoolOff || coolOff <= 0 {
			coolOff = maxServerCoolOff
		}
	}
	b.entries[key] = &Entry{
		ChannelID: channelID,
		ModelID:   modelID,
		Kind:      kind,
		SetAt:     b.now(),
		CoolOff:   coolOff,
		Permanent: permanent,
		trips:     trips,
	}
	b.mu.Unlock()

	if b.onSet != nil {
		b.onSet(channelID)
	}
}

// Blocked reports whether a (channel, model) pair is currently suppressed.
// Expired entries are treated as absent but only pruned by Sweep, so reads
// stay lock-cheap.
func (b *Blacklist) Blocked(channelID, modelID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[entryKey(channelID, modelID)]
	return ok && !e.Expired(b.now())
}

// ClearChannel removes every entry for a channel, permanent ones included.
// Called when key validation succeeds or the channel is reconfigured.
func (b *Blacklist) ClearChannel(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.entries {
		if e.ChannelID == channelID {
			delete(b.entries, key)
		}
	}
}

// Sweep drops expired entries and returns how many were removed.
func (b *Blacklist) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	removed := 0
	for key, e := range b.entries {
		if e.Expired(now) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}

// Entries copies the active entries for the health endpoint.
func (b *Blacklist) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	now := b.now()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if !e.Expired(now) {
			out = append(out, *e)
		}
	}
	return out
}
