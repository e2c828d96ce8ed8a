package stepgen

import (
	"fmt"
	"strings"

	"github.com/zen-systems/thinkgate/pkg/reasoning"
)

const systemPrompt = "You are a careful tutor reasoning through a learner's question one step at a time. " +
	"Reply with ONLY JSON: {\"content\":\"...\",\"strategy\":\"deductive|inductive|abductive|analogical|causal|algorithmic\"," +
	"\"confidence\":0-1,\"final\":true|false}. Set final to true only when the step states the conclusion."

// BuildPrompt renders the expansion prompt for one step.
func BuildPrompt(req reasoning.StepRequest) string {
	var sb strings.Builder

	sb.WriteString("You are reasoning through a problem step-by-step.\n\n")
	sb.WriteString("Original query:\n")
	sb.WriteString(req.Query)
	sb.WriteString("\n\n")

	sb.WriteString("Previous reasoning steps:\n")
	if len(req.Path) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for _, step := range req.Path {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", step.Index, step.Strategy, strings.TrimSpace(step.Content)))
	}

	sb.WriteString("\nGenerate the NEXT logical reasoning step. Focus on ONE action:\n")
	sb.WriteString("- break down the problem\n")
	sb.WriteString("- identify key concepts\n")
	sb.WriteString("- make a logical deduction\n")
	sb.WriteString("- consider an example\n")
	sb.WriteString("- draw a conclusion\n")

	if req.StrategyHint != "" {
		sb.WriteString(fmt.Sprintf("\nPrefer a %s step if it helps; avoid repeating earlier approaches.\n", req.StrategyHint))
	}
	if req.Attempt > 1 {
		sb.WriteString("\nKeep this step short and concrete.\n")
	}
	sb.WriteString(fmt.Sprintf("\nStay under %d tokens. Tokens left for reasoning: %d.\n", req.MaxTokens, req.RemainingBudget))

	return sb.String()
}
