package budget

import (
	"log/slog"
	"math"

	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

// Allocator turns a mode decision into a token budget. It keeps no state
// between calls.
type Allocator struct {
	cfg    config.BudgetConfig
	thresh config.ModeConfig
	logger *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the allocator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAllocator validates the budget section and returns an allocator. The
// struggling and complexity thresholds are shared with the mode selector.
func NewAllocator(cfg *config.SchedulerConfig, opts ...Option) (*Allocator, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Field: "budget", Reason: "missing configuration"}
	}
	if err := cfg.Budget.Validate(); err != nil {
		return nil, err
	}
	a := &Allocator{cfg: cfg.Budget, thresh: cfg.Mode, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Ceiling returns the configured provider ceiling.
func (a *Allocator) Ceiling() int {
	return a.cfg.ProviderCeiling
}

// Allocate sizes the budget for a decision. A ceiling too small to hold one
// reasoning and one answer token is a configuration error and never yields
// a zero budget.
func (a *Allocator) Allocate(d mode.Decision, sig signal.Vector, ceiling int) (Budget, error) {
	if err := a.cfg.CheckCeiling(ceiling); err != nil {
		return Budget{}, err
	}
	sig = sig.Clamp()

	tier := a.Tier(d, sig)
	affect, load, readiness := a.Multipliers(sig)
	limit := a.limit(ceiling)

	total := int(math.Round(float64(a.base(tier)) * affect * load * readiness))
	if total < a.cfg.Tiers.Minimal {
		total = a.cfg.Tiers.Minimal
	}
	if total > limit {
		total = limit
	}

	ratio := a.Ratio(sig)
	reasoning := int(float64(total) * ratio)

	b := Budget{
		ReasoningTokens:     reasoning,
		AnswerTokens:        total - reasoning,
		TotalTokens:         total,
		Tier:                tier,
		AffectMultiplier:    affect,
		LoadMultiplier:      load,
		ReadinessMultiplier: readiness,
		ReasoningRatio:      ratio,
		Ceiling:             ceiling,
	}
	return a.guard(b, ceiling), nil
}

// Tier maps the decision and learner state to a budget tier. Struggling
// learners are lifted to higher tiers even when the selector chose adaptive.
func (a *Allocator) Tier(d mode.Decision, sig signal.Vector) Tier {
	struggling := sig.Below(a.thresh.StruggleThreshold)

	switch d.Mode {
	case mode.Deliberate:
		if len(struggling) > 0 && (sig.Complexity > a.cfg.ComprehensiveComplexity || len(struggling) >= 2) {
			return Comprehensive
		}
		return Extended
	case mode.Adaptive:
		if len(sig.Below(a.cfg.StruggleBiasThreshold)) > 0 {
			return Extended
		}
		return Standard
	case mode.Fast:
		if len(struggling) > 0 {
			return Standard
		}
		return Minimal
	default:
		return Standard
	}
}

// Multipliers returns the affect, load and readiness factors for sig.
func (a *Allocator) Multipliers(sig signal.Vector) (affect, load, readiness float64) {
	c := a.cfg

	if sig.Affect < c.OverwhelmedAffect && sig.Load < c.OverwhelmedLoad {
		// Overwhelmed learners get less, not more.
		affect = c.Affect.Min
	} else {
		affect = c.Affect.Max - (c.Affect.Max-c.Affect.Floor)*sig.Affect
	}

	load = clamp(c.Load.Max-(1-sig.Load), c.Load.Min, c.Load.Max)
	readiness = c.Readiness.Min + (c.Readiness.Max-c.Readiness.Min)*sig.Readiness
	return affect, load, readiness
}

// Ratio returns the share of the total reserved for reasoning.
func (a *Allocator) Ratio(sig signal.Vector) float64 {
	r := a.cfg.Ratio
	complexity, struggle, confident := r.Adjustments()
	ratio := r.Base
	if sig.Complexity > a.thresh.ForceDeliberateComplexity {
		ratio += complexity
	}
	if len(sig.Below(a.thresh.StruggleThreshold)) > 0 {
		ratio += struggle
	}
	if sig.Affect > a.cfg.ConfidentAffect {
		ratio -= confident
	}
	return clamp(ratio, r.Min, r.Max)
}

func (a *Allocator) base(t Tier) int {
	switch t {
	case Minimal:
		return a.cfg.Tiers.Minimal
	case Extended:
		return a.cfg.Tiers.Extended
	case Comprehensive:
		return a.cfg.Tiers.Comprehensive
	default:
		return a.cfg.Tiers.Standard
	}
}

func (a *Allocator) limit(ceiling int) int {
	return int(math.Floor(float64(ceiling) * a.cfg.SafetyMargin))
}

// guard enforces the budget invariants. In strict mode a breach panics;
// otherwise the minimal tier is returned in its place.
func (a *Allocator) guard(b Budget, ceiling int) Budget {
	limit := a.limit(ceiling)
	err := Check(b, limit)
	if err == nil {
		return b
	}
	if a.cfg.Strict {
		panic(err)
	}

	a.logger.Error("budget invariant violated, falling back to minimal tier", slog.String("error", err.Error()))

	total := a.cfg.Tiers.Minimal
	if total > limit {
		total = limit
	}
	if total < 0 {
		total = 0
	}
	reasoning := int(float64(total) * a.cfg.Ratio.Base)
	return Budget{
		ReasoningTokens:     reasoning,
		AnswerTokens:        total - reasoning,
		TotalTokens:         total,
		Tier:                Minimal,
		AffectMultiplier:    1,
		LoadMultiplier:      1,
		ReadinessMultiplier: 1,
		ReasoningRatio:      a.cfg.Ratio.Base,
		Ceiling:             ceiling,
		Fallback:            true,
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
