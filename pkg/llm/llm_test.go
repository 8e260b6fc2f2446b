package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: `{"truth": 0.5}`}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "evaluate this"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != `{"truth": 0.5}` {
		t.Errorf("unexpected content: %s", resp.Content)
	}
}

func TestScriptedMockProvider(t *testing.T) {
	scripted := NewScriptedMockProvider("first", "second")

	for _, want := range []string{"first", "second"} {
		resp, err := scripted.Chat(context.Background(), ChatRequest{})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if resp.Content != want {
			t.Errorf("expected %q, got %q", want, resp.Content)
		}
	}

	if _, err := scripted.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Errorf("expected error when script is exhausted")
	}
	if scripted.CallCount != 3 {
		t.Errorf("expected 3 calls, got %d", scripted.CallCount)
	}
}

func TestScriptedMockFailAfter(t *testing.T) {
	scripted := NewScriptedMockProvider("first", "second")
	scripted.FailAfter = 1

	if _, err := scripted.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("first call should succeed: %v", err)
	}
	if _, err := scripted.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatalf("expected failure after FailAfter calls")
	}
}

func TestOllamaProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Errorf("expected non-streaming request")
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Message:         Message{Role: RoleAssistant, Content: "ok"},
			Done:            true,
			EvalCount:       5,
			PromptEvalCount: 7,
		})
	}))
	defer server.Close()

	p := NewOllama(server.URL)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("expected usage 12, got %d", resp.Usage.TotalTokens)
	}
}
