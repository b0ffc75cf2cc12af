package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient returns scripted replies in order. Tests use it to drive the
// chat flow without a network.
type MockClient struct {
	mu      sync.Mutex
	Replies []string
	Errs    []error
	Prompts []string
	calls   int
}

// Complete pops the next scripted reply or error.
func (m *MockClient) Complete(_ context.Context, _, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, userPrompt)
	i := m.calls
	m.calls++
	if i < len(m.Errs) && m.Errs[i] != nil {
		return "", m.Errs[i]
	}
	if i < len(m.Replies) {
		return m.Replies[i], nil
	}
	return "", fmt.Errorf("mock: no scripted reply for call %d", i)
}

// Calls returns how many times Complete ran.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
