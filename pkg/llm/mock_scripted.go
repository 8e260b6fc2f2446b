package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider is a mock provider that returns a pre-defined sequence
// of responses. Useful for testing multi-round deliberations where each round
// consumes one response per participant.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	// CallCount tracks how many times Chat has been called
	CallCount int
	// FailAfter makes calls beyond the given count fail with Err (or a
	// generic error), simulating a participant that drops out mid-circle.
	FailAfter int
}

// NewScriptedMockProvider creates a new ScriptedMockProvider.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{
		Responses: responses,
		FailAfter: -1,
	}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++

	if s.FailAfter >= 0 && s.CallCount > s.FailAfter {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, errors.New("scripted mock: participant offline")
	}
	if s.Err != nil && s.FailAfter < 0 {
		return nil, s.Err
	}

	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	// Pop the first response
	content := s.Responses[0]
	s.Responses = s.Responses[1:]

	return &ChatResponse{
		Content: content,
		Usage:   estimateUsage(req, content),
	}, nil
}
