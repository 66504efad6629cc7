package health

import (
	"testing"
	"time"

	"github.com/ferro-labs/llm-router/providers"
)

func TestTrackerScore(t *testing.T) {
	now := time.Now()
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	if got := tr.Score("c1"); got != neutralScore {
		t.Fatalf("unknown channel score = %v, want %v", got, neutralScore)
	}

	for i := 0; i < 9; i++ {
		tr.Record("c1", true, 100*time.Millisecond, "")
	}
	tr.Record("c1", false, 2*time.Second, providers.KindUpstreamServerError)

	got := tr.Score("c1")
	if got <= 0.8 || got > 0.95 {
		t.Errorf("90%% fresh success rate should score near 0.9, got %v", got)
	}
}

func TestTrackerFreshnessDecay(t *testing.T) {
	now := time.Now()
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	tr.Record("c1", true, 50*time.Millisecond, "")
	fresh := tr.Score("c1")

	tr.now = func() time.Time { return now.Add(3 * time.Hour) }
	stale := tr.Score("c1")
	if stale >= fresh {
		t.Errorf("stale score %v should drop below fresh score %v", stale, fresh)
	}
	if stale < neutralScore-0.3 {
		t.Errorf("decay should drift toward neutral, not collapse: %v", stale)
	}
}

func TestTrackerLatencyEWMA(t *testing.T) {
	tr := NewTracker()
	tr.Record("c1", true, 100*time.Millisecond, "")
	if got := tr.Latency("c1"); got != 100 {
		t.Fatalf("first sample sets EWMA directly, got %v", got)
	}
	tr.Record("c1", true, 200*time.Millisecond, "")
	got := tr.Latency("c1")
	if got <= 100 || got >= 200 {
		t.Errorf("EWMA should land between samples, got %v", got)
	}
}

func TestTrackerRestoreSkipsLive(t *testing.T) {
	tr := NewTracker()
	tr.Record("c1", true, 10*time.Millisecond, "")
	tr.Restore([]State{
		{ChannelID: "c1", Requests: 100, Successes: 0},
		{ChannelID: "c2", Requests: 5, Successes: 5},
	})
	states := tr.Snapshot()
	if len(states) != 2 {
		t.Fatalf("want 2 states, got %d", len(states))
	}
	for _, st := range states {
		if st.ChannelID == "c1" && st.Requests != 1 {
			t.Error("restore must not clobber live state")
		}
	}
}

func TestKeyStatesBackoff(t *testing.T) {
	now := time.Now()
	ks := NewKeyStates()
	ks.now = func() time.Time { return now }

	if !ks.Usable("c1", "abcd1234") {
		t.Fatal("unknown key should be usable")
	}
	if !ks.Due("c1", "abcd1234") {
		t.Fatal("unknown key should be due for validation")
	}

	ks.MarkInvalid("c1", "abcd1234", providers.KindAuthInvalid)
	if ks.Usable("c1", "abcd1234") {
		t.Error("auth-failed key should not be usable")
	}
	if ks.Due("c1", "abcd1234") {
		t.Error("key should be inside its backoff window")
	}

	// Each consecutive failure doubles the backoff, capped at 24 h.
	for i := 0; i < 10; i++ {
		ks.MarkInvalid("c1", "abcd1234", providers.KindAuthInvalid)
	}
	ks.now = func() time.Time { return now.Add(keyBackoffCap) }
	if !ks.Due("c1", "abcd1234") {
		t.Error("backoff must cap at 24 h")
	}

	ks.MarkValid("c1", "abcd1234")
	if !ks.Usable("c1", "abcd1234") {
		t.Error("revalidated key should be usable again")
	}
}
