// Package jsruntime executes user-supplied validator scripts for custom
// detection rules. Scripts receive the matched substring and the full
// scanned text as globals and decide whether the match stands.
package jsruntime

import "fmt"

// ErrorCode represents specific JavaScript execution error types
type ErrorCode string

const (
	// ErrorCodeSyntaxError indicates invalid JavaScript syntax
	ErrorCodeSyntaxError ErrorCode = "SYNTAX_ERROR"

	// ErrorCodeRuntimeError indicates a JavaScript runtime exception
	ErrorCodeRuntimeError ErrorCode = "RUNTIME_ERROR"

	// ErrorCodeTimeout indicates execution exceeded its time budget
	ErrorCodeTimeout ErrorCode = "TIMEOUT"

	// ErrorCodeCancelled indicates the caller's context was cancelled
	ErrorCodeCancelled ErrorCode = "CANCELLED"
)

// JsError represents a JavaScript execution error with message, stack trace, and error code
type JsError struct {
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
	Code    ErrorCode `json:"code"`
}

// Error implements the error interface
func (e *JsError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Code, e.Message, e.Stack)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewJsError creates a new JsError with the given code and message
func NewJsError(code ErrorCode, message string) *JsError {
	return &JsError{
		Code:    code,
		Message: message,
	}
}

// NewJsErrorWithStack creates a new JsError with code, message, and stack trace
func NewJsErrorWithStack(code ErrorCode, message, stack string) *JsError {
	return &JsError{
		Code:    code,
		Message: message,
		Stack:   stack,
	}
}
