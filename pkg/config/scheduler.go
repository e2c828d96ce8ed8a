package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig holds every tunable of the reasoning scheduler. It is
// loaded once at process start and treated as read-only afterwards.
type SchedulerConfig struct {
	Mode       ModeConfig       `yaml:"mode"`
	Budget     BudgetConfig     `yaml:"budget"`
	Search     SearchConfig     `yaml:"search"`
	Generation GenerationConfig `yaml:"generation"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Sink       SinkConfig       `yaml:"sink"`
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ModeConfig tunes the mode selector.
type ModeConfig struct {
	Weights ScoreWeights `yaml:"weights"`

	// ForceDeliberateComplexity: complexity strictly above this always deliberates.
	ForceDeliberateComplexity float64 `yaml:"force_deliberate_complexity,omitempty"`
	// StruggleThreshold: any learner factor strictly below this is "struggling".
	StruggleThreshold     float64 `yaml:"struggle_threshold,omitempty"`
	FastComplexityCeiling float64 `yaml:"fast_complexity_ceiling,omitempty"`
	FastScoreThreshold    float64 `yaml:"fast_score_threshold,omitempty"`

	Confidence ModeConfidence            `yaml:"confidence"`
	Estimates  map[string]ModeEstimate `yaml:"estimates,omitempty"`
}

// ScoreWeights weights the fast-path suitability score.
type ScoreWeights struct {
	Complexity float64 `yaml:"complexity,omitempty"`
	Affect     float64 `yaml:"affect,omitempty"`
	Load       float64 `yaml:"load,omitempty"`
	Readiness  float64 `yaml:"readiness,omitempty"`
}

// Sum returns the total weight.
func (w ScoreWeights) Sum() float64 {
	return w.Complexity + w.Affect + w.Load + w.Readiness
}

// ModeConfidence holds the confidence reported for each decision rule.
type ModeConfidence struct {
	ComplexityForced float64 `yaml:"complexity_forced,omitempty"`
	Struggling       float64 `yaml:"struggling,omitempty"`
	Fast             float64 `yaml:"fast,omitempty"`
	Adaptive         float64 `yaml:"adaptive,omitempty"`
}

// ModeEstimate is a linear advisory estimate in query complexity c:
// duration = BaseMs + PerComplexityMs*c, tokens = BaseTokens + PerComplexityTokens*c.
type ModeEstimate struct {
	BaseMs              int `yaml:"base_ms"`
	PerComplexityMs     int `yaml:"per_complexity_ms"`
	BaseTokens          int `yaml:"base_tokens"`
	PerComplexityTokens int `yaml:"per_complexity_tokens"`
}

// BudgetConfig tunes the budget allocator.
type BudgetConfig struct {
	Tiers TierBases `yaml:"tiers"`

	ProviderCeiling int     `yaml:"provider_ceiling,omitempty"`
	SafetyMargin    float64 `yaml:"safety_margin,omitempty"`

	// StruggleBiasThreshold lifts adaptive requests to a higher tier when any
	// learner factor is below it.
	StruggleBiasThreshold   float64 `yaml:"struggle_bias_threshold,omitempty"`
	ComprehensiveComplexity float64 `yaml:"comprehensive_complexity,omitempty"`

	Affect    FactorRange `yaml:"affect"`
	Load      FactorRange `yaml:"load"`
	Readiness FactorRange `yaml:"readiness"`

	OverwhelmedAffect float64 `yaml:"overwhelmed_affect,omitempty"`
	OverwhelmedLoad   float64 `yaml:"overwhelmed_load,omitempty"`
	ConfidentAffect   float64 `yaml:"confident_affect,omitempty"`

	Ratio RatioConfig `yaml:"ratio"`

	// Strict panics on internal budget invariant breaches instead of
	// falling back to the minimal tier. Intended for development.
	Strict bool `yaml:"strict,omitempty"`
}

// TierBases holds the base token count of each tier.
type TierBases struct {
	Minimal       int `yaml:"minimal,omitempty"`
	Standard      int `yaml:"standard,omitempty"`
	Extended      int `yaml:"extended,omitempty"`
	Comprehensive int `yaml:"comprehensive,omitempty"`
}

// FactorRange bounds a multiplier. Floor is the lowest value reached on the
// regular (non-exceptional) path.
type FactorRange struct {
	Min   float64 `yaml:"min,omitempty"`
	Floor float64 `yaml:"floor,omitempty"`
	Max   float64 `yaml:"max,omitempty"`
}

// RatioConfig controls the reasoning/answer split.
type RatioConfig struct {
	Base             float64 `yaml:"base,omitempty"`
	Min              float64 `yaml:"min,omitempty"`
	Max              float64 `yaml:"max,omitempty"`
	ComplexityBonus  *float64 `yaml:"complexity_bonus,omitempty"`
	StruggleBonus    *float64 `yaml:"struggle_bonus,omitempty"`
	ConfidentPenalty *float64 `yaml:"confident_penalty,omitempty"`
}

// Adjustments returns the ratio shifts applied for high complexity, a
// struggling learner and a confident learner. Unset shifts are zero.
func (r RatioConfig) Adjustments() (complexity, struggle, confident float64) {
	return deref(r.ComplexityBonus), deref(r.StruggleBonus), deref(r.ConfidentPenalty)
}

// SearchConfig tunes the reasoning search engine.
type SearchConfig struct {
	DefaultDepth       int     `yaml:"default_depth,omitempty"`
	ComprehensiveDepth int     `yaml:"comprehensive_depth,omitempty"`
	ExplorationWeight  float64 `yaml:"exploration_weight,omitempty"`
	RepetitionPenalty  *float64 `yaml:"repetition_penalty,omitempty"`
	FinalConfidence    float64 `yaml:"final_confidence,omitempty"`
	StepTokenEstimate  int     `yaml:"step_token_estimate,omitempty"`
	RetryScopeFactor   float64 `yaml:"retry_scope_factor,omitempty"`
}

// Penalty returns the repetition penalty, zero when unset.
func (s SearchConfig) Penalty() float64 {
	return deref(s.RepetitionPenalty)
}

// GenerationConfig selects the generation backend.
type GenerationConfig struct {
	Adapter       string `yaml:"adapter,omitempty"`
	Model         string `yaml:"model,omitempty"`
	MaxStepTokens int    `yaml:"max_step_tokens,omitempty"`
	StepTimeoutMs int    `yaml:"step_timeout_ms,omitempty"`
}

// DispatchConfig tunes session dispatch.
type DispatchConfig struct {
	EventBuffer           int `yaml:"event_buffer,omitempty"`
	DeadlineGraceMs       *int `yaml:"deadline_grace_ms,omitempty"`
	MaxConcurrentSessions int  `yaml:"max_concurrent_sessions,omitempty"`
}

// Grace returns how long a session may overrun its deadline before it is
// cancelled. Zero cancels at the deadline.
func (d DispatchConfig) Grace() time.Duration {
	return time.Duration(deref(d.DeadlineGraceMs)) * time.Millisecond
}

// SinkConfig selects and tunes the session record sink.
type SinkConfig struct {
	Kind          string `yaml:"kind,omitempty"`
	Path          string `yaml:"path,omitempty"`
	QueueSize     int    `yaml:"queue_size,omitempty"`
	MaxRetries    int    `yaml:"max_retries,omitempty"`
	BaseBackoffMs int    `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int    `yaml:"max_backoff_ms,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	TraceExporter string `yaml:"trace_exporter,omitempty"`
}

// LoadSchedulerConfig reads scheduler configuration from a YAML file.
func LoadSchedulerConfig(path string) (*SchedulerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg SchedulerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applySchedulerDefaults(&cfg)
	return &cfg, nil
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	cfg := &SchedulerConfig{}
	applySchedulerDefaults(cfg)
	return cfg
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg == nil {
		return
	}

	m := &cfg.Mode
	if m.Weights.Sum() == 0 {
		m.Weights = ScoreWeights{Complexity: 0.30, Affect: 0.25, Load: 0.25, Readiness: 0.20}
	}
	setFloat(&m.ForceDeliberateComplexity, 0.7)
	setFloat(&m.StruggleThreshold, 0.4)
	setFloat(&m.FastComplexityCeiling, 0.3)
	setFloat(&m.FastScoreThreshold, 0.75)
	setFloat(&m.Confidence.ComplexityForced, 0.9)
	setFloat(&m.Confidence.Struggling, 0.85)
	setFloat(&m.Confidence.Fast, 0.85)
	setFloat(&m.Confidence.Adaptive, 0.75)
	if m.Estimates == nil {
		m.Estimates = make(map[string]ModeEstimate)
	}
	defaults := map[string]ModeEstimate{
		"fast":       {BaseMs: 500, PerComplexityMs: 1000, BaseTokens: 300, PerComplexityTokens: 700},
		"deliberate": {BaseMs: 3000, PerComplexityMs: 5000, BaseTokens: 1500, PerComplexityTokens: 3000},
		"adaptive":   {BaseMs: 1500, PerComplexityMs: 3000, BaseTokens: 800, PerComplexityTokens: 1700},
	}
	for name, est := range defaults {
		if _, ok := m.Estimates[name]; !ok {
			m.Estimates[name] = est
		}
	}

	b := &cfg.Budget
	setInt(&b.Tiers.Minimal, 750)
	setInt(&b.Tiers.Standard, 1500)
	setInt(&b.Tiers.Extended, 2750)
	setInt(&b.Tiers.Comprehensive, 4250)
	setInt(&b.ProviderCeiling, 4096)
	setFloat(&b.SafetyMargin, 0.9)
	setFloat(&b.StruggleBiasThreshold, 0.5)
	setFloat(&b.ComprehensiveComplexity, 0.6)
	setFloat(&b.Affect.Min, 0.6)
	setFloat(&b.Affect.Floor, 0.9)
	setFloat(&b.Affect.Max, 1.5)
	setFloat(&b.Load.Min, 0.5)
	setFloat(&b.Load.Max, 1.5)
	setFloat(&b.Readiness.Min, 0.5)
	setFloat(&b.Readiness.Max, 1.2)
	setFloat(&b.OverwhelmedAffect, 0.15)
	setFloat(&b.OverwhelmedLoad, 0.3)
	setFloat(&b.ConfidentAffect, 0.8)
	setFloat(&b.Ratio.Base, 0.5)
	setFloat(&b.Ratio.Min, 0.4)
	setFloat(&b.Ratio.Max, 0.7)
	setDefault(&b.Ratio.ComplexityBonus, 0.15)
	setDefault(&b.Ratio.StruggleBonus, 0.1)
	setDefault(&b.Ratio.ConfidentPenalty, 0.1)

	s := &cfg.Search
	setInt(&s.DefaultDepth, 5)
	setInt(&s.ComprehensiveDepth, 10)
	setFloat(&s.ExplorationWeight, 1.41)
	setDefault(&s.RepetitionPenalty, 0.3)
	setFloat(&s.FinalConfidence, 0.8)
	setInt(&s.StepTokenEstimate, 200)
	setFloat(&s.RetryScopeFactor, 0.5)

	g := &cfg.Generation
	if g.Adapter == "" {
		g.Adapter = "mock"
	}
	setInt(&g.MaxStepTokens, 400)
	setInt(&g.StepTimeoutMs, 30000)

	d := &cfg.Dispatch
	setInt(&d.EventBuffer, 64)
	setDefault(&d.DeadlineGraceMs, 15000)

	k := &cfg.Sink
	if k.Kind == "" {
		k.Kind = "file"
	}
	setInt(&k.QueueSize, 128)
	setInt(&k.MaxRetries, 3)
	setInt(&k.BaseBackoffMs, 100)
	setInt(&k.MaxBackoffMs, 2000)
	if k.MaxBackoffMs < k.BaseBackoffMs {
		k.MaxBackoffMs = k.BaseBackoffMs
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8088"
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = "none"
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

// setDefault fills a field where zero is a legitimate setting, so only an
// absent value takes the default.
func setDefault[T int | float64](v **T, def T) {
	if *v == nil {
		*v = &def
	}
}

func deref[T int | float64](v *T) T {
	if v == nil {
		return 0
	}
	return *v
}
