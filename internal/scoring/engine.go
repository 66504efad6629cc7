package scoring

import (
	"math"
	"sort"

	"github.com/ferro-labs/llm-router/providers"
)

// PrefilterThreshold is the candidate count above which the cheap pre-score
// trims the field before full scoring.
const PrefilterThreshold = 20

// Breakdown carries the eight factor scores, the continuous weighted total
// (for logging and the API response), and the hierarchical bucket composite
// that is the actual sort key.
type Breakdown struct {
	Cost        float64 `json:"cost"`
	Speed       float64 `json:"speed"`
	Quality     float64 `json:"quality"`
	Reliability float64 `json:"reliability"`
	Parameter   float64 `json:"parameter"`
	Context     float64 `json:"context"`
	Free        float64 `json:"free"`
	Local       float64 `json:"local"`

	Total  float64 `json:"total"`
	Bucket int     `json:"bucket"`
}

func (b *Breakdown) factor(f Factor) float64 {
	switch f {
	case FactorCost:
		return b.Cost
	case FactorSpeed:
		return b.Speed
	case FactorQuality:
		return b.Quality
	case FactorReliability:
		return b.Reliability
	case FactorParameter:
		return b.Parameter
	case FactorContext:
		return b.Context
	case FactorFree:
		return b.Free
	case FactorLocal:
		return b.Local
	}
	return 0
}

// bucket compresses a factor score into a 0-9 digit.
func bucket(s float64) int {
	d := int(math.Floor(s * 9))
	if d > 9 {
		return 9
	}
	if d < 0 {
		return 0
	}
	return d
}

// composite builds the six-digit sort key. Digit order is fixed regardless
// of strategy: cost, context, parameter, speed, quality, reliability.
func (b *Breakdown) composite() int {
	return bucket(b.Cost)*100000 +
		bucket(b.Context)*10000 +
		bucket(b.Parameter)*1000 +
		bucket(b.Speed)*100 +
		bucket(b.Quality)*10 +
		bucket(b.Reliability)
}

// Scored pairs a candidate with its score breakdown.
type Scored struct {
	providers.Candidate
	Score Breakdown
}

// HealthSource supplies the live signals behind the speed and reliability
// factors.
type HealthSource interface {
	Score(channelID string) float64
	Latency(channelID string) float64
	Requests(channelID string) int64
}

// Engine scores and ranks candidates.
type Engine struct {
	health  HealthSource
	baseURL func(ch *providers.Channel) string
}

// NewEngine creates an Engine. baseURL resolves a channel's effective
// endpoint for the local factor; nil means never local by URL.
func NewEngine(health HealthSource, baseURL func(ch *providers.Channel) string) *Engine {
	if baseURL == nil {
		baseURL = func(*providers.Channel) string { return "" }
	}
	return &Engine{health: health, baseURL: baseURL}
}

// Rank scores every candidate under the strategy and returns them sorted:
// bucket composite descending, then channel id ascending. When the field
// exceeds PrefilterThreshold a cheap pre-score trims it first.
func (e *Engine) Rank(req *providers.Request, candidates []providers.Candidate, strategy Strategy) []Scored {
	if len(candidates) > PrefilterThreshold {
		candidates = e.prefilter(candidates, PrefilterThreshold)
	}
	out := make([]Scored, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, Scored{Candidate: cand, Score: e.scoreOne(req, cand, strategy)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Score.composite(), out[j].Score.composite()
		if ci != cj {
			return ci > cj
		}
		return out[i].Channel.ID < out[j].Channel.ID
	})
	return out
}

func (e *Engine) scoreOne(req *providers.Request, cand providers.Candidate, strategy Strategy) Breakdown {
	chID := cand.Channel.ID
	b := Breakdown{
		Cost:        costScore(req, cand),
		Speed:       speedScore(e.health.Latency(chID)),
		Quality:     qualityScore(cand),
		Reliability: reliabilityScore(e.health.Score(chID), e.health.Requests(chID)),
		Parameter:   parameterScore(cand.Info.Specs.Parameters),
		Context:     contextScore(cand.Info.Specs.ContextLength),
		Free:        freeScore(cand),
		Local:       localScore(cand, e.baseURL(cand.Channel)),
	}

	var sum, weightSum float64
	for _, fw := range strategy.Factors {
		s := b.factor(fw.Factor)
		if fw.Order == OrderAsc {
			s = 1 - s
		}
		sum += s * fw.Weight
		weightSum += fw.Weight
	}
	if weightSum > 0 {
		b.Total = sum / weightSum
	}
	b.Bucket = b.composite()
	return b
}

// prefilter keeps the top-K candidates by a cheap score over is-free,
// priority, and is-local only. Free, local, and high-priority candidates
// sort first, so a winner on those axes is never prefiltered away.
func (e *Engine) prefilter(candidates []providers.Candidate, k int) []providers.Candidate {
	type pre struct {
		cand  providers.Candidate
		score float64
	}
	pres := make([]pre, 0, len(candidates))
	for _, cand := range candidates {
		s := float64(cand.Channel.Priority)
		if freeScore(cand) == 1.0 {
			s += 1000
		}
		if cand.Info.IsLocal || isLocalHost(e.baseURL(cand.Channel)) {
			s += 500
		}
		pres = append(pres, pre{cand: cand, score: s})
	}
	sort.SliceStable(pres, func(i, j int) bool {
		if pres[i].score != pres[j].score {
			return pres[i].score > pres[j].score
		}
		return pres[i].cand.Channel.ID < pres[j].cand.Channel.ID
	})
	out := make([]providers.Candidate, 0, k)
	for i := 0; i < k && i < len(pres); i++ {
		out = append(out, pres[i].cand)
	}
	return out
}
