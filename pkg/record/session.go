// Package record defines the persisted reasoning session and the sinks that
// store it.
package record

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

var (
	// ErrSessionSealed is returned when mutating a sealed session.
	ErrSessionSealed = errors.New("session is sealed")
	// ErrNotFound is returned by readers for unknown session IDs.
	ErrNotFound = errors.New("session not found")
)

// Status is the terminal status of a session.
type Status string

const (
	StatusOpen      Status = ""
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Outcome is the metadata recorded when a session is sealed.
type Outcome struct {
	Status       Status `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
	TokensUsed   int    `json:"tokens_used"`
	ElapsedMs    int64  `json:"elapsed_ms"`
	StepCount    int    `json:"step_count"`
	Failures     int    `json:"failures,omitempty"`
	Feedback     *int   `json:"feedback,omitempty"`
}

// Session is one reasoning request from start to seal. It is owned by the
// task that created it until sealed and read-only afterwards.
type Session struct {
	mu sync.RWMutex

	ID        string             `json:"id"`
	Query     string             `json:"query"`
	Signal    signal.Vector      `json:"signal"`
	Decision  mode.Decision      `json:"decision"`
	Budget    budget.Budget      `json:"budget"`
	Chain     reasoning.Snapshot `json:"chain"`
	Outcome   Outcome            `json:"outcome"`
	CreatedAt time.Time          `json:"created_at"`
	SealedAt  *time.Time         `json:"sealed_at,omitempty"`
}

// NewSession opens a session at request start.
func NewSession(id, query string, sig signal.Vector, d mode.Decision, b budget.Budget) *Session {
	return &Session{
		ID:        id,
		Query:     query,
		Signal:    sig,
		Decision:  d,
		Budget:    b,
		Chain:     reasoning.Snapshot{Query: query, Mode: d.Mode, Steps: []reasoning.Step{}},
		CreatedAt: time.Now().UTC(),
	}
}

// AddStep records a streamed step.
func (s *Session) AddStep(step reasoning.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SealedAt != nil {
		return ErrSessionSealed
	}
	s.Chain.Steps = append(s.Chain.Steps, step)
	return nil
}

// Seal records the final chain and outcome. Sealing twice is a no-op that
// keeps the first outcome.
func (s *Session) Seal(chain reasoning.Snapshot, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SealedAt != nil {
		return
	}
	if chain.Steps == nil {
		chain.Steps = []reasoning.Step{}
	}
	s.Chain = chain
	outcome.StepCount = len(chain.Steps)
	s.Outcome = outcome
	now := time.Now().UTC()
	s.SealedAt = &now
}

// Sealed reports whether the session is frozen.
func (s *Session) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SealedAt != nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &Session{
		ID:        s.ID,
		Query:     s.Query,
		Signal:    s.Signal,
		Decision:  s.Decision,
		Budget:    s.Budget,
		Chain:     s.Chain,
		Outcome:   s.Outcome,
		CreatedAt: s.CreatedAt,
	}
	c.Chain.Steps = append([]reasoning.Step(nil), s.Chain.Steps...)
	if s.Decision.Reasons != nil {
		c.Decision.Reasons = append([]string(nil), s.Decision.Reasons...)
	}
	if s.SealedAt != nil {
		t := *s.SealedAt
		c.SealedAt = &t
	}
	if s.Outcome.Feedback != nil {
		f := *s.Outcome.Feedback
		c.Outcome.Feedback = &f
	}
	return c
}

// WithFeedback returns a copy of the session carrying rating. The receiver is
// left untouched.
func (s *Session) WithFeedback(rating int) *Session {
	c := s.Clone()
	r := rating
	c.Outcome.Feedback = &r
	return c
}

// ValidateRating checks a user feedback rating.
func ValidateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("feedback rating must be between 1 and 5, got %d", rating)
	}
	return nil
}

// Summary is a list-view projection of a session.
type Summary struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Mode       mode.Mode `json:"mode"`
	Tier       string    `json:"tier"`
	Status     Status    `json:"status"`
	StepCount  int       `json:"step_count"`
	TokensUsed int       `json:"tokens_used"`
	Degraded   bool      `json:"degraded,omitempty"`
	Feedback   *int      `json:"feedback,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summarize projects s for listings.
func Summarize(s *Session) Summary {
	return Summary{
		ID:         s.ID,
		Query:      s.Query,
		Mode:       s.Decision.Mode,
		Tier:       string(s.Budget.Tier),
		Status:     s.Outcome.Status,
		StepCount:  s.Outcome.StepCount,
		TokensUsed: s.Outcome.TokensUsed,
		Degraded:   s.Outcome.Degraded,
		Feedback:   s.Outcome.Feedback,
		CreatedAt:  s.CreatedAt,
	}
}
