package stepgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zen-systems/thinkgate/pkg/adapter"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
)

func TestParseProposal(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		content    string
		strategy   reasoning.Strategy
		confidence float64
		final      bool
	}{
		{
			name:       "plain json",
			input:      `{"content":"Heat causes expansion","strategy":"causal","confidence":0.7,"final":false}`,
			content:    "Heat causes expansion",
			strategy:   reasoning.Causal,
			confidence: 0.7,
		},
		{
			name:       "fenced json final",
			input:      "```json\n{\"content\":\"Therefore x = 4\",\"strategy\":\"Deductive\",\"confidence\":0.92,\"final\":true}\n```",
			content:    "Therefore x = 4",
			strategy:   reasoning.Deductive,
			confidence: 0.92,
			final:      true,
		},
		{
			name:       "prose around json with unknown strategy",
			input:      `Sure! {"content":"I notice a pattern in the terms","strategy":"vibes"} Hope that helps.`,
			content:    "I notice a pattern in the terms",
			strategy:   reasoning.Inductive,
			confidence: 0.5,
		},
		{
			name:       "free text",
			input:      "First, follow the procedure for long division.",
			content:    "First, follow the procedure for long division.",
			strategy:   reasoning.Algorithmic,
			confidence: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProposal(tt.input)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if p.Content != tt.content || p.Strategy != tt.strategy || p.Confidence != tt.confidence || p.IsFinal != tt.final {
				t.Fatalf("unexpected proposal: %+v", p)
			}
		})
	}
}

func TestParseProposalEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "```\n```"} {
		if _, err := ParseProposal(input); !errors.Is(err, ErrEmptyStep) {
			t.Fatalf("ParseProposal(%q): expected ErrEmptyStep, got %v", input, err)
		}
	}
}

func TestBuildPromptIncludesPathAndHint(t *testing.T) {
	parent := 0
	prompt := BuildPrompt(reasoning.StepRequest{
		Query: "Why do ice cubes float?",
		Mode:  mode.Deliberate,
		Path: []reasoning.Step{
			{Index: 1, Content: "Ice is less dense than water", Strategy: reasoning.Causal, ParentIndex: &parent},
		},
		StrategyHint:    reasoning.Analogical,
		MaxTokens:       200,
		RemainingBudget: 900,
		Attempt:         2,
	})

	for _, want := range []string{
		"Why do ice cubes float?",
		"1. [causal] Ice is less dense than water",
		"Prefer a analogical step",
		"Keep this step short",
		"Stay under 200 tokens. Tokens left for reasoning: 900.",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGenerateStepUsesAdapterUsage(t *testing.T) {
	m := adapter.NewMockAdapterWithScript(`{"content":"Thus the answer is 3","strategy":"deductive","confidence":0.9,"final":true}`)
	m.Usage = &adapter.Usage{PromptTokens: 40, CompletionTokens: 17, TotalTokens: 57}

	g := New(m, "mock-1")
	p, err := g.GenerateStep(context.Background(), reasoning.StepRequest{Query: "q", MaxTokens: 100})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !p.IsFinal || p.TokensUsed != 17 {
		t.Fatalf("unexpected proposal: %+v", p)
	}
}

func TestGenerateStepWrapsAdapterErrors(t *testing.T) {
	m := adapter.NewMockAdapter()
	m.Err = &adapter.AdapterError{Status: 503}

	_, err := New(m, "").GenerateStep(context.Background(), reasoning.StepRequest{})
	if got := adapter.Classify(err); got != adapter.ClassUnavailable {
		t.Fatalf("expected wrapped unavailable adapter error, got %q (%v)", got, err)
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 || EstimateTokens("abc") != 1 || EstimateTokens("abcdefgh") != 2 || EstimateTokens("abcdefghi") != 3 {
		t.Fatal("unexpected token estimates")
	}
}
