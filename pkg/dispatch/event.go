package dispatch

import (
	"time"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
)

// EventType names a session event.
type EventType string

const (
	EventThinkingStarted   EventType = "thinking_started"
	EventModeSelected      EventType = "mode_selected"
	EventReasoningStep     EventType = "reasoning_step"
	EventReasoningComplete EventType = "reasoning_complete"
	EventCancelled         EventType = "cancelled"
	EventError             EventType = "error"
)

// Terminal reports whether t ends a session's event stream.
func (t EventType) Terminal() bool {
	return t == EventReasoningComplete || t == EventCancelled || t == EventError
}

// Error kinds carried by error events.
const (
	KindBackpressure  = "backpressure"
	KindConfiguration = "configuration"
	KindInternal      = "internal"
)

// Event is one message on a session stream. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Time      time.Time `json:"time"`

	ThinkingStarted   *ThinkingStarted   `json:"thinking_started,omitempty"`
	ModeSelected      *ModeSelected      `json:"mode_selected,omitempty"`
	Step              *StepEvent         `json:"reasoning_step,omitempty"`
	ReasoningComplete *ReasoningComplete `json:"reasoning_complete,omitempty"`
	Cancelled         *Cancelled         `json:"cancelled,omitempty"`
	Error             *ErrorEvent        `json:"error,omitempty"`
}

// ThinkingStarted opens every stream.
type ThinkingStarted struct {
	EstimatedDurationMs int `json:"estimated_duration_ms"`
}

// ModeSelected reports the decision and budget.
type ModeSelected struct {
	Mode            mode.Mode   `json:"mode"`
	Confidence      float64     `json:"confidence"`
	Tier            budget.Tier `json:"tier"`
	Explanation     string      `json:"explanation"`
	ReasoningTokens int         `json:"reasoning_tokens"`
	AnswerTokens    int         `json:"answer_tokens"`
}

// StepEvent carries one reasoning step.
type StepEvent struct {
	Index      int                `json:"index"`
	Content    string             `json:"content"`
	Strategy   reasoning.Strategy `json:"strategy"`
	Confidence float64            `json:"confidence"`
}

// ReasoningComplete ends a session that produced a conclusion.
type ReasoningComplete struct {
	StepCount  int     `json:"step_count"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	Conclusion *string `json:"conclusion"`
	Degraded   bool    `json:"degraded"`
}

// Cancelled ends a session stopped by the caller or its deadline.
type Cancelled struct {
	AtIndex int `json:"at_index"`
}

// ErrorEvent ends a session that failed.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
