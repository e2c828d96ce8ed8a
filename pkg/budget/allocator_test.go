package budget

import (
	"errors"
	"math"
	"testing"

	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

func newTestPipeline(t *testing.T) (*mode.Selector, *Allocator) {
	t.Helper()
	cfg := config.DefaultSchedulerConfig()
	a, err := NewAllocator(cfg)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	return mode.NewSelector(cfg.Mode), a
}

func plan(t *testing.T, s *mode.Selector, a *Allocator, sig signal.Vector, ceiling int) (mode.Decision, Budget) {
	t.Helper()
	d := s.Select(sig)
	b, err := a.Allocate(d, sig, ceiling)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	return d, b
}

func TestAllocate_ScenarioB_FastMinimal(t *testing.T) {
	s, a := newTestPipeline(t)
	d, b := plan(t, s, a, signal.New(0.1, 0.9, 0.9, 0.9), 4096)

	if d.Mode != mode.Fast {
		t.Fatalf("expected fast, got %s", d.Mode)
	}
	if b.Tier != Minimal {
		t.Fatalf("expected minimal tier, got %s", b.Tier)
	}
	if b.TotalTokens >= 2000 {
		t.Fatalf("expected total < 2000, got %d", b.TotalTokens)
	}
	if math.Abs(float64(b.TotalTokens-1139)) > 1 {
		t.Fatalf("expected about 1139 tokens, got %d", b.TotalTokens)
	}
	if b.ReasoningRatio != 0.4 {
		t.Fatalf("confident learner should get the minimum ratio, got %.2f", b.ReasoningRatio)
	}
}

func TestAllocate_ScenarioC_StrugglingComprehensive(t *testing.T) {
	s, a := newTestPipeline(t)
	d, b := plan(t, s, a, signal.New(0.2, 0.2, 0.2, 0.3), 4096)

	if d.Mode != mode.Deliberate {
		t.Fatalf("expected deliberate, got %s", d.Mode)
	}
	if b.Tier != Extended && b.Tier != Comprehensive {
		t.Fatalf("expected extended or comprehensive, got %s", b.Tier)
	}
	if b.Tier != Comprehensive {
		t.Fatalf("three struggling factors should reach comprehensive, got %s", b.Tier)
	}
	if b.ReasoningRatio <= 0.5 {
		t.Fatalf("expected ratio > 0.5, got %.2f", b.ReasoningRatio)
	}
	if b.ReasoningTokens <= b.AnswerTokens {
		t.Fatalf("expected reasoning share above answer share: %+v", b)
	}
	if math.Abs(float64(b.TotalTokens-2915)) > 1 {
		t.Fatalf("expected about 2915 tokens, got %d", b.TotalTokens)
	}
}

func TestAllocate_ScenarioA_DeliberateExtended(t *testing.T) {
	s, a := newTestPipeline(t)
	d, b := plan(t, s, a, signal.New(0.8, 0.9, 0.9, 0.9), 4096)
	if d.Mode != mode.Deliberate || b.Tier != Extended {
		t.Fatalf("expected deliberate/extended, got %s/%s", d.Mode, b.Tier)
	}
	// 0.5 + 0.15 complexity - 0.1 confident
	if math.Abs(b.ReasoningRatio-0.55) > 1e-9 {
		t.Fatalf("unexpected ratio %.3f", b.ReasoningRatio)
	}
}

func TestTier_AdaptiveStruggleBias(t *testing.T) {
	_, a := newTestPipeline(t)
	adaptive := mode.Decision{Mode: mode.Adaptive}

	if got := a.Tier(adaptive, signal.New(0.5, 0.6, 0.6, 0.6)); got != Standard {
		t.Fatalf("expected standard, got %s", got)
	}
	if got := a.Tier(adaptive, signal.New(0.5, 0.45, 0.6, 0.6)); got != Extended {
		t.Fatalf("expected bias to extended, got %s", got)
	}
}

func TestMultipliers(t *testing.T) {
	_, a := newTestPipeline(t)

	tests := []struct {
		name                   string
		sig                    signal.Vector
		affect, load, readness float64
	}{
		{name: "distressed", sig: signal.New(0.5, 0, 1, 0), affect: 1.5, load: 1.5, readness: 0.5},
		{name: "confident", sig: signal.New(0.5, 1, 0.5, 1), affect: 0.9, load: 1.0, readness: 1.2},
		{name: "overwhelmed exception", sig: signal.New(0.5, 0.1, 0.2, 0.5), affect: 0.6, load: 0.7, readness: 0.85},
		{name: "overloaded floor", sig: signal.New(0.5, 0.5, 0, 0.5), affect: 1.2, load: 0.5, readness: 0.85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			af, lf, rf := a.Multipliers(tt.sig)
			if !near(af, tt.affect) || !near(lf, tt.load) || !near(rf, tt.readness) {
				t.Fatalf("multipliers = (%.3f, %.3f, %.3f), want (%.3f, %.3f, %.3f)",
					af, lf, rf, tt.affect, tt.load, tt.readness)
			}
		})
	}
}

func TestAllocate_Containment(t *testing.T) {
	s, a := newTestPipeline(t)
	grid := []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1}
	ceilings := []int{4, 200, 800, 2048, 4096, 32000}

	for _, ceiling := range ceilings {
		limit := int(math.Floor(float64(ceiling) * 0.9))
		for _, c := range grid {
			for _, af := range grid {
				for _, l := range grid {
					for _, r := range grid {
						_, b := plan(t, s, a, signal.New(c, af, l, r), ceiling)
						if b.ReasoningTokens+b.AnswerTokens != b.TotalTokens {
							t.Fatalf("split mismatch: %+v", b)
						}
						if b.TotalTokens > limit {
							t.Fatalf("total %d exceeds %d for ceiling %d", b.TotalTokens, limit, ceiling)
						}
						if b.ReasoningTokens < 0 || b.AnswerTokens < 0 {
							t.Fatalf("negative tokens: %+v", b)
						}
						if b.ReasoningRatio < 0.4 || b.ReasoningRatio > 0.7 {
							t.Fatalf("ratio out of range: %.3f", b.ReasoningRatio)
						}
						if b.Fallback {
							t.Fatalf("unexpected fallback: %+v", b)
						}
					}
				}
			}
		}
	}
}

func TestAllocate_Deterministic(t *testing.T) {
	s, a := newTestPipeline(t)
	sig := signal.New(0.42, 0.37, 0.81, 0.66)
	d1, b1 := plan(t, s, a, sig, 4096)
	for i := 0; i < 20; i++ {
		d2, b2 := plan(t, s, a, sig, 4096)
		if b1 != b2 || d1.Mode != d2.Mode || d1.Score != d2.Score {
			t.Fatalf("allocation not deterministic: %+v vs %+v", b1, b2)
		}
	}
}

func TestAllocate_NonPositiveCeiling(t *testing.T) {
	s, a := newTestPipeline(t)
	sig := signal.New(0.5, 0.5, 0.5, 0.5)
	for _, ceiling := range []int{0, -10} {
		_, err := a.Allocate(s.Select(sig), sig, ceiling)
		var cfgErr *config.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("ceiling %d: expected configuration error, got %v", ceiling, err)
		}
	}
}

func TestAllocate_CeilingTooSmall(t *testing.T) {
	s, a := newTestPipeline(t)
	sig := signal.New(0.5, 0.5, 0.5, 0.5)
	for _, ceiling := range []int{1, 2, 3} {
		b, err := a.Allocate(s.Select(sig), sig, ceiling)
		var cfgErr *config.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("ceiling %d: expected configuration error, got %v (%+v)", ceiling, err, b)
		}
		if cfgErr.Field != "budget.provider_ceiling" {
			t.Fatalf("ceiling %d: unexpected field %q", ceiling, cfgErr.Field)
		}
	}

	_, b := plan(t, s, a, sig, 4)
	if b.ReasoningTokens < 1 || b.AnswerTokens < 1 {
		t.Fatalf("smallest usable ceiling produced an empty split: %+v", b)
	}
}

func TestNewAllocator_RejectsBadConfig(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	cfg.Budget.SafetyMargin = 0
	cfg.Budget.ProviderCeiling = -5
	if _, err := NewAllocator(cfg); !config.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := NewAllocator(nil); !config.IsConfigurationError(err) {
		t.Fatalf("expected configuration error for nil config, got %v", err)
	}
}

func TestGuard_FallsBackToMinimal(t *testing.T) {
	_, a := newTestPipeline(t)
	broken := Budget{ReasoningTokens: -5, AnswerTokens: 10, TotalTokens: 5, Tier: Extended}

	got := a.guard(broken, 4096)
	if !got.Fallback || got.Tier != Minimal {
		t.Fatalf("expected minimal fallback, got %+v", got)
	}
	if got.TotalTokens != 750 || got.ReasoningTokens+got.AnswerTokens != got.TotalTokens {
		t.Fatalf("unexpected fallback budget: %+v", got)
	}
}

func TestGuard_StrictPanics(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	cfg.Budget.Strict = true
	a, err := NewAllocator(cfg)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic in strict mode")
		}
		if _, ok := r.(*ViolationError); !ok {
			t.Fatalf("expected *ViolationError, got %T", r)
		}
	}()
	a.guard(Budget{ReasoningTokens: 10, AnswerTokens: 10, TotalTokens: 5000}, 4096)
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
