package executor

import (
	"context"
	"sync"
)

// MockProvider replays a scripted sequence of results. When the script is
// exhausted the final entry repeats.
type MockProvider struct {
	mu       sync.Mutex
	script   []Result
	requests []Request
}

// NewMockProvider creates a scripted provider.
func NewMockProvider(script ...Result) *MockProvider {
	return &MockProvider{script: script}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Run(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	if idx < 0 {
		return Result{Success: true, RetryCode: RetryNone}, nil
	}
	return m.script[idx], nil
}

// Calls returns how many times Run was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the received requests.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
