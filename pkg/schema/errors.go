package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeTransient         = "TRANSIENT_EXECUTION_ERROR"
	ErrCodePermanent         = "PERMANENT_EXECUTION_ERROR"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeBudgetExceeded    = "BUDGET_EXCEEDED"
	ErrCodeIterationLimit    = "ITERATION_LIMIT_EXCEEDED"
	ErrCodeHITLAwaitingInput = "HITL_AWAITING_INPUT"
	ErrCodeTemplate          = "TEMPLATE_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCancelled         = "CANCELLED"
)

// Error is the structured error type returned by the engine and its collaborators.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Unit    string         `json:"unit,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Unit, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithUnit attaches the unit-of-work locator (step, task, branch, node...).
func (e *Error) WithUnit(unit string) *Error {
	e.Unit = unit
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsConfiguration reports whether err was detected before execution
// (bad references, duplicate ids, dependency cycles).
func IsConfiguration(err error) bool {
	c := CodeOf(err)
	return c == ErrCodeConfiguration || c == ErrCodeCycleDetected
}

// IsAwaitingInput reports whether err is the recoverable HITL signal.
func IsAwaitingInput(err error) bool {
	return IsCode(err, ErrCodeHITLAwaitingInput)
}
