// Package health keeps rolling per-channel health and per-key validity state.
// The dispatcher records outcomes after every upstream call; the scheduler's
// probe task records synthetic ones. Scores feed candidate filtering and the
// reliability factor in scoring.
package health

import (
	"sync"
	"time"

	"github.com/ferro-labs/llm-router/providers"
)

const (
	// ewmaAlpha weights the newest latency sample.
	ewmaAlpha = 0.3

	// neutralScore is returned for channels with no samples yet so that new
	// channels are neither favoured nor buried.
	neutralScore = 0.7

	freshWindow   = 10 * time.Minute
	staleHalfLife = 30 * time.Minute
	minFreshness  = 0.3
)

// State is the rolling health of one channel.
type State struct {
	ChannelID    string              `json:"channel_id"`
	Requests     int64               `json:"requests"`
	Successes    int64               `json:"successes"`
	LatencyEWMA  float64             `json:"latency_ewma_ms"`
	LastError    providers.ErrorKind `json:"last_error,omitempty"`
	LastSampleAt time.Time           `json:"last_sample_at"`
}

// Score derives the [0,1] health score: success rate discounted by sample
// freshness, so a channel that stopped being exercised drifts back toward
// uncertainty instead of keeping a stale perfect score.
func (s *State) Score(now time.Time) float64 {
	if s == nil || s.Requests == 0 {
		return neutralScore
	}
	rate := float64(s.Successes) / float64(s.Requests)
	return rate*s.freshness(now) + neutralScore*(1-s.freshness(now))
}

func (s *State) freshness(now time.Time) float64 {
	age := now.Sub(s.LastSampleAt)
	if age <= freshWindow {
		return 1.0
	}
	f := 1.0
	for age > freshWindow && f > minFreshness {
		f /= 2
		age -= staleHalfLife
	}
	if f < minFreshness {
		f = minFreshness
	}
	return f
}

// Tracker holds channel states behind a mutex. Reads dominate writes.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*State
	now    func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*State), now: time.Now}
}

// Record folds one call outcome into the channel's state.
func (t *Tracker) Record(channelID string, ok bool, latency time.Duration, kind providers.ErrorKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, found := t.states[channelID]
	if !found {
		st = &State{ChannelID: channelID}
		t.states[channelID] = st
	}
	st.Requests++
	if ok {
		st.Successes++
		st.LastError = ""
	} else {
		st.LastError = kind
	}
	ms := float64(latency.Milliseconds())
	if st.LatencyEWMA == 0 {
		st.LatencyEWMA = ms
	} else {
		st.LatencyEWMA = ewmaAlpha*ms + (1-ewmaAlpha)*st.LatencyEWMA
	}
	st.LastSampleAt = t.now()
}

// Score returns the channel's current health score.
func (t *Tracker) Score(channelID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[channelID].Score(t.now())
}

// Latency returns the channel's latency EWMA in milliseconds, 0 if unknown.
func (t *Tracker) Latency(channelID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[channelID]; ok {
		return st.LatencyEWMA
	}
	return 0
}

// Requests returns the channel's sample count, 0 if unknown.
func (t *Tracker) Requests(channelID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[channelID]; ok {
		return st.Requests
	}
	return 0
}

// Snapshot copies all states for the health endpoint and persistence.
func (t *Tracker) Snapshot() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	return out
}

// Restore seeds states from a persisted snapshot, skipping entries already
// populated by live traffic.
func (t *Tracker) Restore(states []State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range states {
		st := states[i]
		if _, ok := t.states[st.ChannelID]; !ok && st.ChannelID != "" {
			t.states[st.ChannelID] = &st
		}
	}
}

// Drop removes a channel's state, e.g. when config reload deletes it.
func (t *Tracker) Drop(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, channelID)
}
