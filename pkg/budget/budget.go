package budget

import (
	"fmt"
)

// Tier is the budget-size category derived from mode and learner signals.
type Tier string

const (
	Minimal       Tier = "minimal"
	Standard      Tier = "standard"
	Extended      Tier = "extended"
	Comprehensive Tier = "comprehensive"
)

// Rank orders tiers from smallest to largest.
func (t Tier) Rank() int {
	switch t {
	case Minimal:
		return 0
	case Standard:
		return 1
	case Extended:
		return 2
	case Comprehensive:
		return 3
	default:
		return -1
	}
}

// Budget is the token allocation for one request.
type Budget struct {
	ReasoningTokens int  `json:"reasoning_tokens"`
	AnswerTokens    int  `json:"answer_tokens"`
	TotalTokens     int  `json:"total_tokens"`
	Tier            Tier `json:"tier"`

	AffectMultiplier    float64 `json:"affect_multiplier"`
	LoadMultiplier      float64 `json:"load_multiplier"`
	ReadinessMultiplier float64 `json:"readiness_multiplier"`
	ReasoningRatio      float64 `json:"reasoning_ratio"`

	Ceiling  int  `json:"ceiling"`
	Fallback bool `json:"fallback,omitempty"`
}

// ViolationError reports a budget that breaks allocator invariants. It always
// indicates a logic bug, never bad input.
type ViolationError struct {
	Budget Budget
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("budget violation: %s (reasoning=%d answer=%d total=%d)",
		e.Reason, e.Budget.ReasoningTokens, e.Budget.AnswerTokens, e.Budget.TotalTokens)
}

// Check verifies the budget invariants against limit, the largest total the
// provider ceiling allows.
func Check(b Budget, limit int) error {
	switch {
	case b.ReasoningTokens < 0 || b.AnswerTokens < 0 || b.TotalTokens < 0:
		return &ViolationError{Budget: b, Reason: "negative token count"}
	case b.ReasoningTokens+b.AnswerTokens != b.TotalTokens:
		return &ViolationError{Budget: b, Reason: "split does not sum to total"}
	case b.TotalTokens > limit:
		return &ViolationError{Budget: b, Reason: fmt.Sprintf("total exceeds limit %d", limit)}
	}
	return nil
}
