// Package search expands a reasoning chain under a bounded tree search.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zen-systems/thinkgate/pkg/adapter"
	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/metrics"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/stepgen"
)

// errInvalidProposal marks a generator reply with no usable content.
var errInvalidProposal = fmt.Errorf("generator returned an invalid step: %w", adapter.ErrMalformedReply)

// Request is one search to run.
type Request struct {
	Query    string
	Decision mode.Decision
	Budget   budget.Budget

	// OnStep, when set, is called with each appended step before the next
	// expansion starts. It runs on the search goroutine.
	OnStep func(reasoning.Step)
}

// Result is the outcome of a finished search. Chain is always sealed.
type Result struct {
	Chain      *reasoning.Chain
	Outcome    State
	DepthLimit int
	TokensUsed int
	Failures   int
	Degraded   bool
}

// Engine runs searches. It holds only read-only configuration and is safe
// for concurrent use; every Run owns its own tree and chain.
type Engine struct {
	gen    reasoning.Generator
	cfg    config.SearchConfig
	gencfg config.GenerationConfig

	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for search spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewEngine builds an engine around gen.
func NewEngine(gen reasoning.Generator, cfg *config.SchedulerConfig, opts ...Option) (*Engine, error) {
	if gen == nil {
		return nil, &config.ConfigurationError{Field: "generation.adapter", Reason: "no step generator configured"}
	}
	if cfg == nil {
		cfg = config.DefaultSchedulerConfig()
	}
	if err := cfg.Search.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		gen:    gen,
		cfg:    cfg.Search,
		gencfg: cfg.Generation,
		logger: slog.Default(),
		tracer: defaultTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DepthLimit returns the maximum number of steps for a budget tier.
func (e *Engine) DepthLimit(t budget.Tier) int {
	if t == budget.Comprehensive {
		return e.cfg.ComprehensiveDepth
	}
	return e.cfg.DefaultDepth
}

// run is the mutable state of one search.
type run struct {
	req    Request
	tree   *tree
	chain  *reasoning.Chain
	state  State
	used   int
	fails  int
	limit  int
	logger *slog.Logger
}

func (r *run) to(s State) {
	if !canTransition(r.state, s) {
		panic(fmt.Sprintf("search: illegal transition %s -> %s", r.state, s))
	}
	r.logger.Debug("search state", slog.String("from", r.state.String()), slog.String("to", s.String()))
	r.state = s
}

// Run expands a chain for req until it converges, exhausts its reasoning
// budget, or ctx is done. Generation failures never surface as errors; the
// only error is a chain that refuses to seal.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	limit := e.DepthLimit(req.Budget.Tier)
	ctx, span := startRun(ctx, e.tracer, req, limit)

	r := &run{
		req:    req,
		tree:   newTree(),
		chain:  reasoning.NewChain(req.Query, req.Decision.Mode, req.Decision.Complexity),
		limit:  limit,
		logger: e.logger.With(slog.String("mode", string(req.Decision.Mode)), slog.String("tier", string(req.Budget.Tier))),
	}
	r.to(Expanding)

	conclusion, degraded := e.expandAll(ctx, r)

	res := &Result{
		Chain:      r.chain,
		Outcome:    r.state,
		DepthLimit: limit,
		TokensUsed: r.used,
		Failures:   r.fails,
		Degraded:   degraded,
	}
	if err := r.chain.Seal(conclusion, degraded); err != nil {
		span.RecordError(err)
		span.End()
		return nil, err
	}
	r.to(Sealed)
	endRun(span, res)

	r.logger.Info("search finished",
		slog.String("outcome", res.Outcome.String()),
		slog.Int("steps", r.chain.Len()),
		slog.Int("tokens_used", r.used),
		slog.Int("reasoning_tokens", req.Budget.ReasoningTokens),
		slog.Bool("degraded", degraded))
	return res, nil
}

// expandAll is the Expanding loop. It leaves r in a terminal state and
// returns the conclusion to seal with.
func (e *Engine) expandAll(ctx context.Context, r *run) (*string, bool) {
	for {
		if ctx.Err() != nil {
			r.to(Cancelled)
			return nil, false
		}

		if r.chain.Len() >= r.limit {
			r.to(Converged)
			text := e.synthesize(r)
			return &text, false
		}

		remaining := r.req.Budget.ReasoningTokens - r.used
		if remaining <= 0 || e.projected(r) > remaining {
			r.to(BudgetExhausted)
			text := e.synthesize(r)
			return &text, true
		}

		parent, score := r.tree.selectNode(e.cfg.ExplorationWeight, e.cfg.Penalty(), r.limit)
		hint := r.tree.strategyHint(e.cfg.ExplorationWeight)
		r.logger.Debug("node selected",
			slog.Int("parent", parent.index()),
			slog.Int("depth", parent.depth),
			slog.Float64("score", score),
			slog.String("hint", string(hint)))

		proposal, err := e.expand(ctx, r, parent, hint, remaining)
		if err != nil {
			if ctx.Err() != nil {
				r.to(Cancelled)
				return nil, false
			}
			r.logger.Warn("step generation failed after retry", slog.String("error", err.Error()))
			r.to(Converged)
			text := e.synthesize(r)
			return &text, true
		}

		parentIndex := parent.index()
		visits := parent.visits
		explore := score
		step, err := r.chain.Append(reasoning.Step{
			Content:          proposal.Content,
			Strategy:         proposal.Strategy,
			Confidence:       proposal.Confidence,
			Tokens:           proposal.TokensUsed,
			ParentIndex:      &parentIndex,
			ExplorationScore: &explore,
			VisitCount:       &visits,
		})
		if err != nil {
			// The chain is only sealed by Run, so this cannot happen mid-loop.
			panic(err)
		}

		child := r.tree.add(parent, step)
		child.backpropagate(reward(child, step.Confidence))
		r.used += step.Tokens

		if r.req.OnStep != nil {
			r.req.OnStep(step)
		}

		if proposal.IsFinal && step.Confidence >= e.cfg.FinalConfidence {
			r.to(Converged)
			text := step.Content
			return &text, false
		}
	}
}

// projected estimates the cost of the next step from the running average.
func (e *Engine) projected(r *run) int {
	n := r.chain.Len()
	if n == 0 {
		return e.cfg.StepTokenEstimate
	}
	return (r.used + n - 1) / n
}

// expand requests one step, retrying once with a narrower scope.
func (e *Engine) expand(ctx context.Context, r *run, parent *node, hint reasoning.Strategy, remaining int) (*reasoning.Proposal, error) {
	maxTokens := e.gencfg.MaxStepTokens
	if maxTokens <= 0 || maxTokens > remaining {
		maxTokens = remaining
	}
	path := parent.path()

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt == 2 {
			maxTokens = int(float64(maxTokens) * e.cfg.RetryScopeFactor)
			if maxTokens < 1 {
				maxTokens = 1
			}
			if len(path) > 2 {
				path = path[len(path)-2:]
			}
		}

		stepReq := reasoning.StepRequest{
			Query:           r.req.Query,
			Mode:            r.req.Decision.Mode,
			Path:            path,
			StrategyHint:    hint,
			Depth:           parent.depth + 1,
			RemainingBudget: remaining,
			MaxTokens:       maxTokens,
			Attempt:         attempt,
		}

		spanCtx, span := startExpand(ctx, e.tracer, parent.index(), attempt, string(hint))
		p, err := e.generate(spanCtx, stepReq)
		endExpand(span, err)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.fails++
		lastErr = err
		class := adapter.Classify(err)
		metrics.StepFailed(class)
		r.logger.Warn("step generation failed",
			slog.Int("attempt", attempt),
			slog.String("class", class),
			slog.Int("max_tokens", maxTokens),
			slog.String("error", err.Error()))
	}
	return nil, lastErr
}

// generate runs one generator call. The call is abandoned, not awaited,
// when ctx is done or the step timeout passes.
func (e *Engine) generate(ctx context.Context, req reasoning.StepRequest) (*reasoning.Proposal, error) {
	if e.gencfg.StepTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.gencfg.StepTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	type reply struct {
		proposal *reasoning.Proposal
		err      error
	}
	done := make(chan reply, 1)
	go func() {
		p, err := e.gen.GenerateStep(ctx, req)
		done <- reply{p, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rep := <-done:
		if rep.err != nil {
			return nil, rep.err
		}
		p := rep.proposal
		if p == nil || strings.TrimSpace(p.Content) == "" {
			return nil, errInvalidProposal
		}
		if p.TokensUsed <= 0 {
			p.TokensUsed = stepgen.EstimateTokens(p.Content)
		}
		return p, nil
	}
}

// synthesize builds a best-effort conclusion from the best path found so far.
func (e *Engine) synthesize(r *run) string {
	leaf := r.tree.bestLeaf()
	if leaf.step == nil {
		return fmt.Sprintf("No reasoning steps could be completed for %q.", r.req.Query)
	}
	return leaf.step.Content
}
