// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Fire Circle
// deliberations.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Fire Circle errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeParseFailure indicates a model response could not be decoded.
	CodeParseFailure ErrorCode = "PARSE_FAILURE"

	// CodeCallFailure indicates a model call failed or timed out.
	CodeCallFailure ErrorCode = "CALL_FAILURE"

	// CodeQuorumLost indicates live participants dropped below the viable circle.
	CodeQuorumLost ErrorCode = "QUORUM_LOST"

	// CodeStorageError indicates a deliberation could not be durably recorded.
	CodeStorageError ErrorCode = "STORAGE_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// CircleError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type CircleError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *CircleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *CircleError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *CircleError) MarshalJSON() ([]byte, error) {
	type Alias CircleError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new CircleError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *CircleError {
	return &CircleError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *CircleError) WithContext(key string, value interface{}) *CircleError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *CircleError) WithAttribute(key, value string) *CircleError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *CircleError) WithRecoverable(recoverable bool) *CircleError {
	e.Recoverable = recoverable
	return e
}

// AsCircleError attempts to convert an error to a CircleError.
// Returns the error as CircleError if it is one, or wraps it otherwise.
func AsCircleError(err error) *CircleError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CircleError); ok {
		return ce
	}
	return New(CodeInternal, "wrapped error", err)
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *CircleError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
