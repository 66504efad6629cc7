package scoring

import "fmt"

// Order flips a factor's contribution: asc rewards low scores.
type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

// FactorWeight is one strategy term.
type FactorWeight struct {
	Factor Factor  `json:"factor" yaml:"factor"`
	Weight float64 `json:"weight" yaml:"weight"`
	Order  Order   `json:"order,omitempty" yaml:"order,omitempty"`
}

// Strategy is an ordered weighting over the eight factors.
type Strategy struct {
	Name    string         `json:"name" yaml:"name"`
	Factors []FactorWeight `json:"factors" yaml:"factors"`
}

// presets are the named strategies. Weights are relative; the total is
// normalised by their sum.
var presets = map[string]Strategy{
	"cost_first": {Name: "cost_first", Factors: []FactorWeight{
		{Factor: FactorCost, Weight: 0.45},
		{Factor: FactorFree, Weight: 0.2},
		{Factor: FactorQuality, Weight: 0.1},
		{Factor: FactorSpeed, Weight: 0.1},
		{Factor: FactorReliability, Weight: 0.1},
		{Factor: FactorContext, Weight: 0.05},
	}},
	"free_first": {Name: "free_first", Factors: []FactorWeight{
		{Factor: FactorFree, Weight: 0.5},
		{Factor: FactorCost, Weight: 0.2},
		{Factor: FactorQuality, Weight: 0.1},
		{Factor: FactorReliability, Weight: 0.1},
		{Factor: FactorSpeed, Weight: 0.1},
	}},
	"local_first": {Name: "local_first", Factors: []FactorWeight{
		{Factor: FactorLocal, Weight: 0.5},
		{Factor: FactorReliability, Weight: 0.15},
		{Factor: FactorSpeed, Weight: 0.15},
		{Factor: FactorQuality, Weight: 0.1},
		{Factor: FactorCost, Weight: 0.1},
	}},
	"quality_optimized": {Name: "quality_optimized", Factors: []FactorWeight{
		{Factor: FactorQuality, Weight: 0.4},
		{Factor: FactorParameter, Weight: 0.2},
		{Factor: FactorContext, Weight: 0.15},
		{Factor: FactorReliability, Weight: 0.15},
		{Factor: FactorSpeed, Weight: 0.1},
	}},
	"speed_optimized": {Name: "speed_optimized", Factors: []FactorWeight{
		{Factor: FactorSpeed, Weight: 0.45},
		{Factor: FactorReliability, Weight: 0.2},
		{Factor: FactorCost, Weight: 0.15},
		{Factor: FactorQuality, Weight: 0.1},
		{Factor: FactorLocal, Weight: 0.1},
	}},
	"balanced": {Name: "balanced", Factors: []FactorWeight{
		{Factor: FactorCost, Weight: 0.2},
		{Factor: FactorQuality, Weight: 0.2},
		{Factor: FactorSpeed, Weight: 0.15},
		{Factor: FactorReliability, Weight: 0.15},
		{Factor: FactorContext, Weight: 0.1},
		{Factor: FactorParameter, Weight: 0.1},
		{Factor: FactorFree, Weight: 0.05},
		{Factor: FactorLocal, Weight: 0.05},
	}},
}

// DefaultStrategy is used when neither the request nor the config names one.
const DefaultStrategy = "balanced"

// Preset returns a named strategy.
func Preset(name string) (Strategy, error) {
	if name == "" {
		name = DefaultStrategy
	}
	s, ok := presets[name]
	if !ok {
		return Strategy{}, fmt.Errorf("unknown strategy %q", name)
	}
	return s, nil
}

// PresetNames lists the built-in strategy names.
func PresetNames() []string {
	return []string{"balanced", "cost_first", "free_first", "local_first", "quality_optimized", "speed_optimized"}
}

// Custom builds a named strategy from caller-supplied factor weights,
// rejecting unknown factors, non-positive weights, and bad orders.
func Custom(name string, factors []FactorWeight) (Strategy, error) {
	if name == "" {
		return Strategy{}, fmt.Errorf("custom strategy needs a name")
	}
	if len(factors) == 0 {
		return Strategy{}, fmt.Errorf("strategy %q has no factors", name)
	}
	for _, fw := range factors {
		if !validFactor(fw.Factor) {
			return Strategy{}, fmt.Errorf("strategy %q: unknown factor %q", name, fw.Factor)
		}
		if fw.Weight <= 0 {
			return Strategy{}, fmt.Errorf("strategy %q: factor %q needs a positive weight", name, fw.Factor)
		}
		switch fw.Order {
		case "", OrderAsc, OrderDesc:
		default:
			return Strategy{}, fmt.Errorf("strategy %q: order must be asc or desc, got %q", name, fw.Order)
		}
	}
	return Strategy{Name: name, Factors: factors}, nil
}

func validFactor(f Factor) bool {
	switch f {
	case FactorCost, FactorSpeed, FactorQuality, FactorReliability,
		FactorParameter, FactorContext, FactorFree, FactorLocal:
		return true
	}
	return false
}

// CostCentric reports whether a strategy name prioritises price, which lets
// the openrouter adapter ask the upstream to sort providers by price too.
func CostCentric(name string) bool {
	return name == "cost_first" || name == "free_first"
}
