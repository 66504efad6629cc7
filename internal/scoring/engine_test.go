package scoring

import (
	"fmt"
	"testing"

	"github.com/ferro-labs/llm-router/models"
	"github.com/ferro-labs/llm-router/providers"
)

type stubHealth struct {
	score    float64
	latency  float64
	requests int64
}

func (s stubHealth) Score(string) float64   { return s.score }
func (s stubHealth) Latency(string) float64 { return s.latency }
func (s stubHealth) Requests(string) int64  { return s.requests }

func cand(channelID, model string, in, out float64) providers.Candidate {
	c := providers.Candidate{
		Channel: &providers.Channel{ID: channelID, Provider: "p"},
		Model:   model,
	}
	c.Info.Pricing = models.Pricing{InputPerToken: in, OutputPerToken: out}
	return c
}

func chatReq(model string) *providers.Request {
	return &providers.Request{
		Model:    model,
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	}
}

func TestFreeFactorScores(t *testing.T) {
	free := cand("c-free", "llama-3", 0, 0)
	paid := cand("c-paid", "llama-3", 1e-7, 1e-7)

	if got := freeScore(free); got != 1.0 {
		t.Errorf("zero-priced model free score = %v, want 1.0", got)
	}
	if got := freeScore(paid); got != 0.1 {
		t.Errorf("paid model free score = %v, want 0.1", got)
	}
	named := cand("c", "llama-3:free", 1e-7, 1e-7)
	if got := freeScore(named); got != 1.0 {
		t.Errorf("free-named model free score = %v, want 1.0", got)
	}
}

func TestFreeFirstRanksFreeChannelFirst(t *testing.T) {
	e := NewEngine(stubHealth{score: 0.9, latency: 300, requests: 10}, nil)
	strategy, err := Preset("free_first")
	if err != nil {
		t.Fatal(err)
	}

	ranked := e.Rank(chatReq("llama-3"), []providers.Candidate{
		cand("c-paid", "llama-3", 1e-7, 1e-7),
		cand("c-free", "llama-3", 0, 0),
	}, strategy)

	if ranked[0].Channel.ID != "c-free" {
		t.Fatalf("free channel should rank first, got %s", ranked[0].Channel.ID)
	}
	if ranked[0].Score.Free != 1.0 || ranked[1].Score.Free != 0.1 {
		t.Errorf("free factors = %v, %v", ranked[0].Score.Free, ranked[1].Score.Free)
	}
}

func TestQualityOptimizedPrefersLargerModel(t *testing.T) {
	e := NewEngine(stubHealth{score: 0.9, latency: 300, requests: 10}, nil)
	strategy, _ := Preset("quality_optimized")

	big := cand("c-70b", "llama-3-70b", 1e-7, 1e-7)
	big.Info.Specs.Parameters = 70e9
	small := cand("c-30b", "llama-3-30b", 1e-7, 1e-7)
	small.Info.Specs.Parameters = 30e9

	ranked := e.Rank(chatReq("tag:>20b"), []providers.Candidate{small, big}, strategy)
	if ranked[0].Channel.ID != "c-70b" {
		t.Errorf("70B should rank ahead of 30B, got %s first", ranked[0].Channel.ID)
	}
}

func TestCostScore(t *testing.T) {
	req := chatReq("m")
	expensive := cand("c", "m", 1e-3, 1e-3)
	if got := costScore(req, expensive); got != 0 {
		t.Errorf("over-ceiling estimate should score 0, got %v", got)
	}
	cheap := cand("c", "m", 1e-9, 1e-9)
	if got := costScore(req, cheap); got < 0.99 {
		t.Errorf("near-zero estimate should score near 1, got %v", got)
	}
}

func TestSpeedScoreSteps(t *testing.T) {
	steps := map[float64]float64{
		0:    0.6,
		400:  1.0,
		900:  0.9,
		1500: 0.8,
		3000: 0.6,
		5000: 0.4,
		9000: 0.2,
	}
	for ms, want := range steps {
		if got := speedScore(ms); got != want {
			t.Errorf("speedScore(%v) = %v, want %v", ms, got, want)
		}
	}
}

func TestReliabilityNeedsSamples(t *testing.T) {
	if got := reliabilityScore(0.95, 3); got != 0.5 {
		t.Errorf("under 5 samples should score 0.5, got %v", got)
	}
	if got := reliabilityScore(0.95, 20); got != 0.95 {
		t.Errorf("enough samples should pass health through, got %v", got)
	}
}

func TestBucketCompositeDominance(t *testing.T) {
	// A candidate winning the cost digit must beat any combination of
	// lower-order digits.
	hi := Breakdown{Cost: 1.0, Context: 0, Parameter: 0, Speed: 0, Quality: 0, Reliability: 0}
	lo := Breakdown{Cost: 0.8, Context: 1, Parameter: 1, Speed: 1, Quality: 1, Reliability: 1}
	if hi.composite() <= lo.composite() {
		t.Errorf("cost digit must dominate: %d vs %d", hi.composite(), lo.composite())
	}
}

func TestRankDeterministicTieBreak(t *testing.T) {
	e := NewEngine(stubHealth{score: 0.9, latency: 300, requests: 10}, nil)
	strategy, _ := Preset("balanced")
	req := chatReq("m")

	a := e.Rank(req, []providers.Candidate{cand("c2", "m", 0, 0), cand("c1", "m", 0, 0)}, strategy)
	b := e.Rank(req, []providers.Candidate{cand("c1", "m", 0, 0), cand("c2", "m", 0, 0)}, strategy)
	if a[0].Channel.ID != "c1" || b[0].Channel.ID != "c1" {
		t.Error("equal scores must tie-break on channel id ascending")
	}
}

func TestPrefilterKeepsFreeWinner(t *testing.T) {
	e := NewEngine(stubHealth{score: 0.9, latency: 300, requests: 10}, nil)
	strategy, _ := Preset("free_first")

	var candidates []providers.Candidate
	for i := 0; i < 30; i++ {
		candidates = append(candidates, cand(fmt.Sprintf("c-%02d", i), "m", 1e-6, 1e-6))
	}
	candidates = append(candidates, cand("c-free", "m", 0, 0))

	ranked := e.Rank(chatReq("m"), candidates, strategy)
	if len(ranked) != PrefilterThreshold {
		t.Fatalf("prefilter should cap at %d, got %d", PrefilterThreshold, len(ranked))
	}
	if ranked[0].Channel.ID != "c-free" {
		t.Errorf("free candidate must survive the prefilter and win, got %s", ranked[0].Channel.ID)
	}
}

func TestEstimateCost(t *testing.T) {
	req := chatReq("m")
	req.Messages[0].Content = "aaaabbbbccccdddd" // 16 bytes, ~4 tokens
	maxTokens := 100
	req.MaxTokens = &maxTokens

	c := cand("c", "m", 1e-6, 2e-6)
	got := EstimateCost(req, c)
	want := 4*1e-6 + 100*2e-6
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("EstimateCost = %v, want %v", got, want)
	}
}
