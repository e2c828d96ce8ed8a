package config

import (
	"errors"
	"fmt"
	"math"
)

// ConfigurationError reports an unusable configuration value. It is fatal:
// callers abort startup instead of retrying.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "configuration error"
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func invalid(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the scheduler configuration and returns the first problem
// found as a *ConfigurationError.
func (c *SchedulerConfig) Validate() error {
	if c == nil {
		return invalid("scheduler", "missing configuration")
	}
	if err := c.Mode.validate(); err != nil {
		return err
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if c.Generation.MaxStepTokens < 1 {
		return invalid("generation.max_step_tokens", "must be positive, got %d", c.Generation.MaxStepTokens)
	}
	if c.Dispatch.EventBuffer < 1 {
		return invalid("dispatch.event_buffer", "must be positive, got %d", c.Dispatch.EventBuffer)
	}
	if c.Dispatch.MaxConcurrentSessions < 0 {
		return invalid("dispatch.max_concurrent_sessions", "must not be negative")
	}
	if c.Dispatch.Grace() < 0 {
		return invalid("dispatch.deadline_grace_ms", "must not be negative")
	}
	switch c.Sink.Kind {
	case "file", "badger", "sqlite", "none":
	default:
		return invalid("sink.kind", "unknown sink %q", c.Sink.Kind)
	}
	switch c.Telemetry.TraceExporter {
	case "none", "stdout":
	default:
		return invalid("telemetry.trace_exporter", "unknown exporter %q", c.Telemetry.TraceExporter)
	}
	return nil
}

func (m ModeConfig) validate() error {
	w := m.Weights
	if w.Complexity < 0 || w.Affect < 0 || w.Load < 0 || w.Readiness < 0 {
		return invalid("mode.weights", "weights must not be negative")
	}
	if w.Sum() <= 0 {
		return invalid("mode.weights", "weights must sum to a positive value")
	}
	for name, v := range map[string]float64{
		"mode.force_deliberate_complexity": m.ForceDeliberateComplexity,
		"mode.struggle_threshold":          m.StruggleThreshold,
		"mode.fast_complexity_ceiling":     m.FastComplexityCeiling,
		"mode.fast_score_threshold":        m.FastScoreThreshold,
	} {
		if v < 0 || v > 1 {
			return invalid(name, "must be within [0,1], got %.3f", v)
		}
	}
	return nil
}

// Validate checks the budget section. The allocator calls it at construction.
func (b BudgetConfig) Validate() error {
	if b.ProviderCeiling <= 0 {
		return invalid("budget.provider_ceiling", "must be positive, got %d", b.ProviderCeiling)
	}
	if b.SafetyMargin <= 0 || b.SafetyMargin > 1 {
		return invalid("budget.safety_margin", "must be within (0,1], got %.3f", b.SafetyMargin)
	}
	t := b.Tiers
	if t.Minimal <= 0 {
		return invalid("budget.tiers.minimal", "must be positive, got %d", t.Minimal)
	}
	if t.Standard < t.Minimal || t.Extended < t.Standard || t.Comprehensive < t.Extended {
		return invalid("budget.tiers", "tier bases must be non-decreasing")
	}
	for name, r := range map[string]FactorRange{
		"budget.affect":    b.Affect,
		"budget.load":      b.Load,
		"budget.readiness": b.Readiness,
	} {
		if r.Min <= 0 || r.Max < r.Min {
			return invalid(name, "invalid range [%.2f, %.2f]", r.Min, r.Max)
		}
	}
	if b.Affect.Floor < b.Affect.Min || b.Affect.Floor > b.Affect.Max {
		return invalid("budget.affect.floor", "must lie within [min, max]")
	}
	r := b.Ratio
	if r.Min <= 0 || r.Max >= 1 || r.Min > r.Max {
		return invalid("budget.ratio", "bounds must satisfy 0 < min <= max < 1")
	}
	if complexity, struggle, confident := r.Adjustments(); complexity < 0 || struggle < 0 || confident < 0 {
		return invalid("budget.ratio", "bonuses and penalty must not be negative")
	}
	return b.CheckCeiling(b.ProviderCeiling)
}

// CheckCeiling rejects a ceiling that leaves no room for at least one
// reasoning token and one answer token once the safety margin is applied.
func (b BudgetConfig) CheckCeiling(ceiling int) error {
	if ceiling <= 0 {
		return invalid("budget.provider_ceiling", "must be positive, got %d", ceiling)
	}
	limit := int(math.Floor(float64(ceiling) * b.SafetyMargin))
	floor := min(limit, b.Tiers.Minimal)
	if floor < 2 || int(float64(floor)*b.Ratio.Min) < 1 {
		return invalid("budget.provider_ceiling", "ceiling %d leaves a usable limit of %d tokens", ceiling, limit)
	}
	return nil
}

// Validate checks the search settings.
func (s SearchConfig) Validate() error {
	if s.DefaultDepth < 1 {
		return invalid("search.default_depth", "must be at least 1, got %d", s.DefaultDepth)
	}
	if s.ComprehensiveDepth < s.DefaultDepth {
		return invalid("search.comprehensive_depth", "must not be below default_depth")
	}
	if s.ExplorationWeight < 0 {
		return invalid("search.exploration_weight", "must not be negative")
	}
	if s.Penalty() < 0 {
		return invalid("search.repetition_penalty", "must not be negative")
	}
	if s.StepTokenEstimate < 1 {
		return invalid("search.step_token_estimate", "must be positive")
	}
	if s.RetryScopeFactor <= 0 || s.RetryScopeFactor > 1 {
		return invalid("search.retry_scope_factor", "must be within (0,1]")
	}
	return nil
}
