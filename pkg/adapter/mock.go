package adapter

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter returns deterministic responses for local runs and tests.
// Scripted responses are served in order; the last one repeats. Without a
// script it emits numbered JSON reasoning steps that finalize every fourth call.
type MockAdapter struct {
	mu     sync.Mutex
	script []string
	calls  int

	// Err, when set, is returned from every call.
	Err   error
	Usage *Usage
}

// NewMockAdapter creates a mock adapter with the default step script.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// NewMockAdapterWithScript creates a mock adapter that replays responses.
func NewMockAdapterWithScript(responses ...string) *MockAdapter {
	return &MockAdapter{script: responses}
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Calls returns how many times Generate was invoked.
func (a *MockAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Generate returns the next scripted response.
func (a *MockAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.calls++
	n := a.calls
	a.mu.Unlock()

	if a.Err != nil {
		return nil, a.Err
	}

	model := req.Model
	if model == "" {
		model = "mock-1"
	}

	var content string
	switch {
	case len(a.script) > 0 && n <= len(a.script):
		content = a.script[n-1]
	case len(a.script) > 0:
		content = a.script[len(a.script)-1]
	default:
		final := n%4 == 0
		confidence := 0.6
		if final {
			confidence = 0.9
		}
		content = fmt.Sprintf(`{"content": "Mock reasoning step %d", "strategy": "", "confidence": %.2f, "final": %t}`,
			n, confidence, final)
	}

	usage := a.Usage
	if usage == nil {
		usage = newUsage(len(req.Prompt)/4, len(content)/4)
	}
	return &Response{Content: content, Adapter: a.Name(), Model: model, Usage: usage}, nil
}
