package core

import (
	"fmt"
)

// ExecutionError describes why a run ended in the failed phase.
//
// It is recorded into the execution state rather than returned: a failed run
// is a normal outcome, not a program error. It still implements error so that
// callers embedding it in their own flows can use errors.Is/As.
type ExecutionError struct {
	Category ErrorCategory  `json:"category"`
	Code     string         `json:"code"`    // Machine-readable code: model_no_tool_call, tool_failed, etc.
	Message  string         `json:"message"` // Human-readable message
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches another ExecutionError by code, so predefined errors can be
// used as sentinels after WithMessage/WithDetails copies.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	c := *e
	c.Cause = cause
	return &c
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	c := *e
	c.Message = msg
	return &c
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]any) *ExecutionError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	c := *e
	c.Details = merged
	return &c
}

// Predefined run failures
var (
	// Model protocol errors
	ErrModelNoToolCall = &ExecutionError{
		Category: ErrCategoryModel,
		Code:     "model_no_tool_call",
		Message:  "model answered without calling a tool",
	}
	ErrPreconditionNotChecked = &ExecutionError{
		Category: ErrCategoryModel,
		Code:     "precondition_not_checked",
		Message:  "preconditions were never confirmed",
	}

	// Tool errors
	ErrToolFailed = &ExecutionError{
		Category: ErrCategoryToolExecution,
		Code:     "tool_failed",
		Message:  "tool reported failure",
	}
	ErrParadigmsExhausted = &ExecutionError{
		Category: ErrCategoryToolExecution,
		Code:     "paradigms_exhausted",
		Message:  "all interaction paradigms failed",
	}

	// Judgement errors
	ErrPreconditionUnmet = &ExecutionError{
		Category: ErrCategoryPreconditionUnmet,
		Code:     "precondition_unmet",
		Message:  "precondition not satisfied",
	}
	ErrVerificationUnmet = &ExecutionError{
		Category: ErrCategoryVerificationUnmet,
		Code:     "verification_unmet",
		Message:  "verification not satisfied",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}
