package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	// ErrCodeConfig marks caller-fixable failures. They are never retried.
	ErrCodeConfig ErrCode = "CONFIG_ERROR"
	// ErrCodeRuntime marks transient failures that survived the retry budget.
	ErrCodeRuntime    ErrCode = "RUNTIME_ERROR"
	ErrCodeNotFound   ErrCode = "NOT_FOUND"
	ErrCodeBadRequest ErrCode = "BAD_REQUEST"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a configuration-class error
func NewConfigError(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeConfig,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapConfigError creates a configuration-class error with a cause
func WrapConfigError(err error, format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeConfig,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// NewRuntimeError creates a runtime-class error
func NewRuntimeError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeRuntime,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsConfig checks if the error is a configuration-class error
func IsConfig(err error) bool {
	return CodeOf(err) == ErrCodeConfig
}

// IsRuntime checks if the error is a runtime-class error
func IsRuntime(err error) bool {
	return CodeOf(err) == ErrCodeRuntime
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}
