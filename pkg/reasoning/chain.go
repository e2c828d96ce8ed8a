package reasoning

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/zen-systems/thinkgate/pkg/mode"
)

// ErrChainSealed is returned when mutating a chain after it was sealed.
var ErrChainSealed = errors.New("reasoning chain is sealed")

// Step is one unit of inspectable reasoning.
type Step struct {
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	Strategy   Strategy  `json:"strategy"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	Tokens     int       `json:"tokens,omitempty"`

	// Search metadata, set when the step came from tree search.
	ParentIndex      *int     `json:"parent_index,omitempty"`
	ExplorationScore *float64 `json:"exploration_score,omitempty"`
	VisitCount       *int     `json:"visit_count,omitempty"`
}

// Chain is the ordered, append-only sequence of steps for one query. Once
// sealed it is immutable and safe for concurrent readers.
type Chain struct {
	mu sync.RWMutex

	query      string
	mode       mode.Mode
	complexity float64
	steps      []Step

	confidenceSum float64
	conclusion    *string
	degraded      bool
	sealed        bool

	startedAt   time.Time
	completedAt time.Time
}

// NewChain starts an empty chain for query.
func NewChain(query string, m mode.Mode, complexity float64) *Chain {
	return &Chain{
		query:      query,
		mode:       m,
		complexity: complexity,
		startedAt:  time.Now(),
	}
}

// Append numbers step as the next index and adds it to the chain. Unknown
// strategies are inferred from the content and confidence is clamped to [0,1].
func (c *Chain) Append(step Step) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return Step{}, ErrChainSealed
	}

	step.Index = len(c.steps) + 1
	if !step.Strategy.Valid() {
		step.Strategy = InferStrategy(step.Content)
	}
	step.Confidence = clampUnit(step.Confidence)
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}

	c.steps = append(c.steps, step)
	c.confidenceSum += step.Confidence
	return step, nil
}

// Seal freezes the chain. A nil conclusion marks a cancelled chain.
func (c *Chain) Seal(conclusion *string, degraded bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return ErrChainSealed
	}
	if conclusion != nil {
		text := *conclusion
		c.conclusion = &text
	}
	c.degraded = degraded
	c.sealed = true
	c.completedAt = time.Now()
	return nil
}

// Len returns the number of steps.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.steps)
}

// Steps returns a copy of the steps.
func (c *Chain) Steps() []Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Step returns the step with the given 1-based index.
func (c *Chain) Step(index int) (Step, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 1 || index > len(c.steps) {
		return Step{}, false
	}
	return c.steps[index-1], true
}

// Query returns the originating query.
func (c *Chain) Query() string { return c.query }

// Mode returns the reasoning mode the chain ran under.
func (c *Chain) Mode() mode.Mode { return c.mode }

// Sealed reports whether the chain is frozen.
func (c *Chain) Sealed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sealed
}

// Conclusion returns the conclusion, or nil for a cancelled or open chain.
func (c *Chain) Conclusion() *string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conclusion == nil {
		return nil
	}
	text := *c.conclusion
	return &text
}

// Degraded reports whether the conclusion was synthesized after failures.
func (c *Chain) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// AverageConfidence is the running mean confidence across steps.
func (c *Chain) AverageConfidence() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.averageLocked()
}

func (c *Chain) averageLocked() float64 {
	if len(c.steps) == 0 {
		return 0
	}
	return c.confidenceSum / float64(len(c.steps))
}

// StrategyDistribution counts steps per strategy.
func (c *Chain) StrategyDistribution() map[Strategy]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dist := make(map[Strategy]int)
	for _, s := range c.steps {
		dist[s.Strategy]++
	}
	return dist
}

// Elapsed returns wall time from start to seal, or to now while open.
func (c *Chain) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sealed {
		return c.completedAt.Sub(c.startedAt)
	}
	return time.Since(c.startedAt)
}

// Snapshot is a value copy of a chain, suitable for persistence and JSON.
type Snapshot struct {
	Query                string           `json:"query"`
	Mode                 mode.Mode        `json:"mode"`
	Steps                []Step           `json:"steps"`
	Conclusion           *string          `json:"conclusion"`
	Degraded             bool             `json:"degraded,omitempty"`
	Sealed               bool             `json:"sealed"`
	AverageConfidence    float64          `json:"average_confidence"`
	ComplexityScore      float64          `json:"complexity_score"`
	StrategyDistribution map[Strategy]int `json:"strategy_distribution,omitempty"`
	StartedAt            time.Time        `json:"started_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	ElapsedMs            int64            `json:"elapsed_ms"`
}

// Snapshot copies the current chain state.
func (c *Chain) Snapshot() Snapshot {
	dist := c.StrategyDistribution()
	elapsed := c.Elapsed()

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Query:                c.query,
		Mode:                 c.mode,
		Steps:                make([]Step, len(c.steps)),
		Degraded:             c.degraded,
		Sealed:               c.sealed,
		AverageConfidence:    c.averageLocked(),
		ComplexityScore:      c.complexity,
		StrategyDistribution: dist,
		StartedAt:            c.startedAt,
		ElapsedMs:            elapsed.Milliseconds(),
	}
	copy(snap.Steps, c.steps)
	if c.conclusion != nil {
		text := *c.conclusion
		snap.Conclusion = &text
	}
	if c.sealed {
		done := c.completedAt
		snap.CompletedAt = &done
	}
	return snap
}

// WellFormed reports whether step indices run 1..n without gaps.
func (s Snapshot) WellFormed() bool {
	for i, step := range s.Steps {
		if step.Index != i+1 {
			return false
		}
	}
	return true
}

func clampUnit(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
