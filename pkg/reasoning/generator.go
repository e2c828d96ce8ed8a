package reasoning

import (
	"context"

	"github.com/zen-systems/thinkgate/pkg/mode"
)

// StepRequest is the prompt context handed to a Generator for one step.
type StepRequest struct {
	Query string
	Mode  mode.Mode

	// Path holds the steps from the root to the node being expanded.
	Path []Step

	StrategyHint    Strategy
	Depth           int
	RemainingBudget int
	MaxTokens       int
	Attempt         int
}

// Proposal is one candidate step returned by a Generator. Confidence is an
// advisory score, not a calibrated probability.
type Proposal struct {
	Content    string
	Strategy   Strategy
	Confidence float64
	IsFinal    bool
	TokensUsed int
}

// Generator produces candidate reasoning steps.
type Generator interface {
	GenerateStep(ctx context.Context, req StepRequest) (*Proposal, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req StepRequest) (*Proposal, error)

// GenerateStep calls f.
func (f GeneratorFunc) GenerateStep(ctx context.Context, req StepRequest) (*Proposal, error) {
	return f(ctx, req)
}
