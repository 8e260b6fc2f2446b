package llm

import (
	"context"
	"fmt"
)

// Test doubles for circle participants. A deliberation needs several
// independent voices; tests assemble a circle from these without any model
// backend running.

// MockProvider answers every call with the same canned content, standing in
// for a participant whose judgment never changes.
type MockProvider struct {
	// Response is returned verbatim as the message content.
	Response string

	// Err, when set, fails every call.
	Err error

	// ChatFunc overrides the canned behavior entirely.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   estimateUsage(req, m.Response),
	}, nil
}

// FailingMockProvider simulates a participant whose backend is unreachable
// from the first call, for quorum and zombification scenarios.
type FailingMockProvider struct {
	Err error
}

func (f *FailingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, fmt.Errorf("mock participant unreachable")
}

// estimateUsage derives plausible token counts from text lengths so mock
// responses show up in usage accounting the way real ones do.
func estimateUsage(req ChatRequest, content string) Usage {
	prompt := 0
	for _, m := range req.Messages {
		prompt += len(m.Content)/4 + 1
	}
	completion := len(content)/4 + 1
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
