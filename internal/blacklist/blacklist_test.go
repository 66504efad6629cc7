package blacklist

import (
	"testing"
	"time"

	"github.com/ferro-labs/llm-router/providers"
)

func TestTripAndExpiry(t *testing.T) {
	now := time.Now()
	bl := New(nil)
	bl.now = func() time.Time { return now }

	bl.Trip("c1", "m1", providers.KindRateLimited)
	if !bl.Blocked("c1", "m1") {
		t.Fatal("rate-limited pair should be blocked")
	}
	if bl.Blocked("c1", "m2") || bl.Blocked("c2", "m1") {
		t.Error("other pairs must stay unaffected")
	}

	bl.now = func() time.Time { return now.Add(61 * time.Second) }
	if bl.Blocked("c1", "m1") {
		t.Error("rate-limit cool-off is 60s")
	}
}

func TestServerErrorDoubling(t *testing.T) {
	now := time.Now()
	bl := New(nil)
	bl.now = func() time.Time { return now }

	bl.Trip("c1", "m1", providers.KindUpstreamServerError)
	bl.now = func() time.Time { return now.Add(31 * time.Second) }
	if bl.Blocked("c1", "m1") {
		t.Fatal("first trip cools off after 30s")
	}

	// Second consecutive trip doubles to 60s.
	bl.Trip("c1", "m1", providers.KindUpstreamServerError)
	base := now.Add(31 * time.Second)
	bl.now = func() time.Time { return base.Add(45 * time.Second) }
	if !bl.Blocked("c1", "m1") {
		t.Error("second trip should still block at 45s")
	}
	bl.now = func() time.Time { return base.Add(61 * time.Second) }
	if bl.Blocked("c1", "m1") {
		t.Error("second trip cools off after 60s")
	}

	// Cool-off caps at 5 min no matter how many trips.
	for i := 0; i < 10; i++ {
		bl.Trip("c1", "m1", providers.KindUpstreamServerError)
	}
	last := base.Add(61 * time.Second)
	bl.now = func() time.Time { return last.Add(5*time.Minute + time.Second) }
	if bl.Blocked("c1", "m1") {
		t.Error("cool-off must cap at 5 min")
	}
}

func TestAuthPermanentUntilCleared(t *testing.T) {
	now := time.Now()
	bl := New(nil)
	bl.now = func() time.Time { return now }

	bl.Trip("c1", "m1", providers.KindAuthInvalid)
	bl.now = func() time.Time { return now.Add(48 * time.Hour) }
	if !bl.Blocked("c1", "m1") {
		t.Fatal("auth entries never expire by time")
	}

	bl.ClearChannel("c1")
	if bl.Blocked("c1", "m1") {
		t.Error("ClearChannel should lift the auth block")
	}
}

func TestUnclassifiedKindIgnored(t *testing.T) {
	bl := New(nil)
	bl.Trip("c1", "m1", providers.KindRequestMalformed)
	if bl.Blocked("c1", "m1") {
		t.Error("malformed requests are a caller problem, not a channel one")
	}
}

func TestOnSetHook(t *testing.T) {
	var fired []string
	bl := New(func(channelID string) { fired = append(fired, channelID) })
	bl.Trip("c1", "m1", providers.KindRateLimited)
	bl.Trip("c2", "m1", providers.KindUpstreamTimeout)
	if len(fired) != 2 || fired[0] != "c1" || fired[1] != "c2" {
		t.Errorf("onSet hook calls = %v", fired)
	}
}

func TestSweep(t *testing.T) {
	now := time.Now()
	bl := New(nil)
	bl.now = func() time.Time { return now }

	bl.Trip("c1", "m1", providers.KindRateLimited)
	bl.Trip("c2", "m2", providers.KindAuthInvalid)

	bl.now = func() time.Time { return now.Add(2 * time.Minute) }
	if removed := bl.Sweep(); removed != 1 {
		t.Errorf("sweep removed %d entries, want 1", removed)
	}
	if len(bl.Entries()) != 1 {
		t.Error("permanent entry must survive the sweep")
	}
}
