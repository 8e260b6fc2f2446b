// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	ce := New(CodeCallFailure, "model call failed", cause)

	if ce.Code != CodeCallFailure {
		t.Errorf("expected CodeCallFailure, got %v", ce.Code)
	}
	if ce.Message != "model call failed" {
		t.Errorf("expected message 'model call failed', got %q", ce.Message)
	}
	if ce.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(ce, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	ce := New(CodeQuorumLost, "circle below minimum", nil)
	ce.WithContext("live", 1).
		WithContext("min_viable_circle", 2)

	if ce.Context["live"] != 1 {
		t.Errorf("expected context live to be 1")
	}
	if ce.Context["min_viable_circle"] == nil {
		t.Errorf("expected context min_viable_circle to be set")
	}
}

func TestWithAttribute(t *testing.T) {
	ce := New(CodeCallFailure, "model call failed", nil)
	ce.WithAttribute("model", "claude-sonnet").
		WithAttribute("round", "2")

	if ce.Attributes["model"] != "claude-sonnet" {
		t.Errorf("expected attribute model")
	}
	if ce.Attributes["round"] != "2" {
		t.Errorf("expected attribute round")
	}
}

func TestWithRecoverable(t *testing.T) {
	ce := New(CodeParseFailure, "bad json", nil)
	if ce.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}

	ce.WithRecoverable(true)
	if !ce.Recoverable {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		ce       *CircleError
		expected string
	}{
		{
			name:     "with cause",
			ce:       New(CodeTimeout, "participant call timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] participant call timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			ce:       New(CodeNotFound, "deliberation not found", nil),
			expected: "[NOT_FOUND] deliberation not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ce.Error()
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	ce := New(CodeStorageError, "write failed", errors.New("disk full")).
		WithRecoverable(false)

	data, err := json.Marshal(ce)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["code"] != "STORAGE_ERROR" {
		t.Errorf("expected code STORAGE_ERROR, got %v", decoded["code"])
	}
	if decoded["recoverable"] != false {
		t.Errorf("expected recoverable false")
	}
}

func TestAsCircleError(t *testing.T) {
	if AsCircleError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}

	ce := New(CodeLLMError, "provider error", nil)
	if got := AsCircleError(ce); got != ce {
		t.Errorf("expected same CircleError back")
	}

	plain := errors.New("plain error")
	wrapped := AsCircleError(plain)
	if wrapped.Code != CodeInternal {
		t.Errorf("expected CodeInternal for wrapped plain error, got %v", wrapped.Code)
	}
	if wrapped.Err != plain {
		t.Errorf("expected cause to be the plain error")
	}
}
