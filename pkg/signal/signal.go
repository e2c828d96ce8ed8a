package signal

import (
	"fmt"
	"math"
)

// Vector is the snapshot of learner and query signals that drives scheduling.
// It is built by external collaborators and treated as read-only input.
type Vector struct {
	Complexity float64 `json:"complexity" yaml:"complexity"`
	Affect     float64 `json:"affect" yaml:"affect"`
	Load       float64 `json:"load" yaml:"load"`
	Readiness  float64 `json:"readiness" yaml:"readiness"`
}

// New returns a Vector with every field clamped to [0,1].
func New(complexity, affect, load, readiness float64) Vector {
	return Vector{
		Complexity: complexity,
		Affect:     affect,
		Load:       load,
		Readiness:  readiness,
	}.Clamp()
}

// Clamp returns a copy with every field forced into [0,1]. NaN maps to 0.
func (v Vector) Clamp() Vector {
	return Vector{
		Complexity: unit(v.Complexity),
		Affect:     unit(v.Affect),
		Load:       unit(v.Load),
		Readiness:  unit(v.Readiness),
	}
}

// Factors returns the three learner-state factors in a stable order.
func (v Vector) Factors() [3]Factor {
	return [3]Factor{
		{Name: "affect", Value: v.Affect},
		{Name: "load", Value: v.Load},
		{Name: "readiness", Value: v.Readiness},
	}
}

// Below returns the learner-state factors strictly below threshold.
func (v Vector) Below(threshold float64) []Factor {
	var out []Factor
	for _, f := range v.Factors() {
		if f.Value < threshold {
			out = append(out, f)
		}
	}
	return out
}

func (v Vector) String() string {
	return fmt.Sprintf("complexity=%.2f affect=%.2f load=%.2f readiness=%.2f",
		v.Complexity, v.Affect, v.Load, v.Readiness)
}

// Factor is a named learner-state value.
type Factor struct {
	Name  string
	Value float64
}

// Describe renders the factor the way explanations refer to it.
func (f Factor) Describe() string {
	switch f.Name {
	case "affect":
		return fmt.Sprintf("low affect (%.2f)", f.Value)
	case "load":
		return fmt.Sprintf("high cognitive load (%.2f)", f.Value)
	case "readiness":
		return fmt.Sprintf("low readiness (%.2f)", f.Value)
	default:
		return fmt.Sprintf("%s (%.2f)", f.Name, f.Value)
	}
}

func unit(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Neutral is the value assumed for a learner factor nobody reported.
const Neutral = 0.5

// Input is a partially specified vector as received from callers. Missing
// learner factors default to Neutral; a missing complexity is estimated from
// the query text.
type Input struct {
	Complexity *float64 `json:"complexity,omitempty"`
	Affect     *float64 `json:"affect,omitempty"`
	Load       *float64 `json:"load,omitempty"`
	Readiness  *float64 `json:"readiness,omitempty"`
}

// Resolve fills the gaps in in and clamps the result.
func (in Input) Resolve(query string) Vector {
	pick := func(p *float64, def float64) float64 {
		if p == nil {
			return def
		}
		return *p
	}
	var complexity float64
	if in.Complexity != nil {
		complexity = *in.Complexity
	} else {
		complexity = EstimateComplexity(query)
	}
	return New(complexity, pick(in.Affect, Neutral), pick(in.Load, Neutral), pick(in.Readiness, Neutral))
}
