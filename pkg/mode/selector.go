package mode

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

// Selector picks a reasoning mode for a signal vector. It holds only
// read-only configuration and is safe for concurrent use.
type Selector struct {
	cfg    config.ModeConfig
	logger *slog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSelector creates a selector from mode configuration.
func NewSelector(cfg config.ModeConfig, opts ...Option) *Selector {
	s := &Selector{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the fast-path suitability score in [0,1]. Low complexity and
// high affect, load availability and readiness all raise it.
func (s *Selector) Score(sig signal.Vector) float64 {
	sig = sig.Clamp()
	w := s.cfg.Weights
	total := w.Sum()
	if total <= 0 {
		return 0
	}
	raw := w.Complexity*(1-sig.Complexity) +
		w.Affect*sig.Affect +
		w.Load*sig.Load +
		w.Readiness*sig.Readiness
	return raw / total
}

// Select returns the decision for sig. The first matching rule wins:
// forced complexity, then struggling learner, then the fast path, then adaptive.
func (s *Selector) Select(sig signal.Vector) Decision {
	sig = sig.Clamp()
	score := s.Score(sig)

	d := Decision{
		Complexity: sig.Complexity,
		Affect:     sig.Affect,
		Load:       sig.Load,
		Readiness:  sig.Readiness,
		Score:      score,
	}

	struggling := sig.Below(s.cfg.StruggleThreshold)

	switch {
	case sig.Complexity > s.cfg.ForceDeliberateComplexity:
		d.Mode = Deliberate
		d.Confidence = s.cfg.Confidence.ComplexityForced
		d.Reasons = append(d.Reasons, fmt.Sprintf("complexity %.2f > %.2f", sig.Complexity, s.cfg.ForceDeliberateComplexity))
		d.Explanation = fmt.Sprintf("High complexity (%.2f) requires deliberate reasoning", sig.Complexity)

	case len(struggling) > 0:
		d.Mode = Deliberate
		d.Confidence = s.cfg.Confidence.Struggling
		limits := make([]string, 0, len(struggling))
		for _, f := range struggling {
			limits = append(limits, f.Describe())
			d.Reasons = append(d.Reasons, fmt.Sprintf("%s %.2f < %.2f", f.Name, f.Value, s.cfg.StruggleThreshold))
		}
		d.Explanation = fmt.Sprintf("Learner is struggling: %s; reasoning carefully", strings.Join(limits, ", "))

	case sig.Complexity < s.cfg.FastComplexityCeiling && score > s.cfg.FastScoreThreshold:
		d.Mode = Fast
		d.Confidence = s.cfg.Confidence.Fast
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("complexity %.2f < %.2f", sig.Complexity, s.cfg.FastComplexityCeiling),
			fmt.Sprintf("score %.2f > %.2f", score, s.cfg.FastScoreThreshold))
		d.Explanation = fmt.Sprintf("Simple query (complexity %.2f) and a ready learner (score %.2f); answering directly", sig.Complexity, score)

	default:
		d.Mode = Adaptive
		d.Confidence = s.cfg.Confidence.Adaptive
		d.Reasons = append(d.Reasons, "no forcing rule matched")
		d.Explanation = fmt.Sprintf("Moderate conditions (complexity %.2f, score %.2f); using adaptive reasoning", sig.Complexity, score)
	}

	d.EstimatedDurationMs, d.EstimatedTokens = s.Estimate(d.Mode, sig.Complexity)

	s.logger.Debug("mode selected",
		slog.String("mode", string(d.Mode)),
		slog.Float64("confidence", d.Confidence),
		slog.Float64("score", score),
		slog.String("signal", sig.String()))
	return d
}

// Estimate returns the advisory duration and token estimates for a mode.
func (s *Selector) Estimate(m Mode, complexity float64) (durationMs, tokens int) {
	est, ok := s.cfg.Estimates[string(m)]
	if !ok {
		return 0, 0
	}
	durationMs = est.BaseMs + int(float64(est.PerComplexityMs)*complexity)
	tokens = est.BaseTokens + int(float64(est.PerComplexityTokens)*complexity)
	return durationMs, tokens
}
