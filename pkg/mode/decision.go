package mode

import (
	"encoding/json"
	"fmt"
)

// Mode is the coarse reasoning depth chosen for a request.
type Mode string

const (
	Fast       Mode = "fast"
	Adaptive   Mode = "adaptive"
	Deliberate Mode = "deliberate"
)

// Depth orders modes by how much reasoning they imply.
func (m Mode) Depth() int {
	switch m {
	case Fast:
		return 0
	case Adaptive:
		return 1
	case Deliberate:
		return 2
	default:
		return -1
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m.Depth() >= 0
}

// Parse converts a string into a Mode.
func Parse(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// UnmarshalJSON rejects unknown modes.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Decision captures a mode selection and the signals that produced it.
type Decision struct {
	Mode        Mode     `json:"mode"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Reasons     []string `json:"reasons,omitempty"`

	Complexity float64 `json:"complexity"`
	Affect     float64 `json:"affect"`
	Load       float64 `json:"load"`
	Readiness  float64 `json:"readiness"`
	Score      float64 `json:"score"`

	EstimatedDurationMs int `json:"estimated_duration_ms"`
	EstimatedTokens     int `json:"estimated_tokens"`
}
