// Package stepgen turns a text-generation adapter into a reasoning step
// generator.
package stepgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zen-systems/thinkgate/pkg/adapter"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
)

// ErrEmptyStep is returned when the backend produced no usable step text.
var ErrEmptyStep = fmt.Errorf("generator returned an empty step: %w", adapter.ErrMalformedReply)

// defaultConfidence is assigned to free-text replies that carry no score.
const defaultConfidence = 0.5

// Generator implements reasoning.Generator on top of an adapter.Adapter.
type Generator struct {
	adapter adapter.Adapter
	model   string
	logger  *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the generator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New wraps a for step generation with the given model.
func New(a adapter.Adapter, model string, opts ...Option) *Generator {
	g := &Generator{adapter: a, model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateStep asks the backend for the next step and parses its reply.
func (g *Generator) GenerateStep(ctx context.Context, req reasoning.StepRequest) (*reasoning.Proposal, error) {
	resp, err := g.adapter.Generate(ctx, adapter.Request{
		Model:     g.model,
		System:    systemPrompt,
		Prompt:    BuildPrompt(req),
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s step generation: %w", g.adapter.Name(), err)
	}

	proposal, err := ParseProposal(resp.Content)
	if err != nil {
		return nil, err
	}

	if resp.Usage != nil && resp.Usage.CompletionTokens > 0 {
		proposal.TokensUsed = resp.Usage.CompletionTokens
	} else {
		proposal.TokensUsed = EstimateTokens(resp.Content)
	}

	g.logger.Debug("step generated",
		slog.String("adapter", g.adapter.Name()),
		slog.String("strategy", string(proposal.Strategy)),
		slog.Float64("confidence", proposal.Confidence),
		slog.Bool("final", proposal.IsFinal),
		slog.Int("tokens", proposal.TokensUsed))
	return proposal, nil
}

type stepReply struct {
	Content    string   `json:"content"`
	Strategy   string   `json:"strategy"`
	Confidence *float64 `json:"confidence"`
	Final      bool     `json:"final"`
}

// ParseProposal decodes a JSON step reply. Code fences and surrounding prose
// are tolerated; a reply with no JSON object is taken as free step text.
func ParseProposal(content string) (*reasoning.Proposal, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var reply stepReply
	if obj, ok := extractObject(content); ok && json.Unmarshal([]byte(obj), &reply) == nil && strings.TrimSpace(reply.Content) != "" {
		p := &reasoning.Proposal{
			Content:    strings.TrimSpace(reply.Content),
			Confidence: defaultConfidence,
			IsFinal:    reply.Final,
		}
		if reply.Confidence != nil {
			p.Confidence = *reply.Confidence
		}
		if s, err := reasoning.ParseStrategy(reply.Strategy); err == nil {
			p.Strategy = s
		} else {
			p.Strategy = reasoning.InferStrategy(p.Content)
		}
		return p, nil
	}

	if content == "" {
		return nil, ErrEmptyStep
	}
	return &reasoning.Proposal{
		Content:    content,
		Strategy:   reasoning.InferStrategy(content),
		Confidence: defaultConfidence,
	}, nil
}

func extractObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// EstimateTokens approximates the token count of text at four characters per
// token, rounding up.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
