package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error code
type ErrorCode int

// Error codes for the portal core taxonomy
const (
	ErrAuthentication ErrorCode = iota + 1000
	ErrPermission
	ErrConflict
	ErrValidation
	ErrNetwork
	ErrNotFound
	ErrInternal
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for k, v := range e.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", k, v))
		}
		return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors
func Authentication(message string, err error) *AppError {
	if message == "" {
		message = "authentication failed"
	}
	return &AppError{Code: ErrAuthentication, Message: message, Err: err}
}

func Permission(message string) *AppError {
	if message == "" {
		message = "permission denied"
	}
	return &AppError{Code: ErrPermission, Message: message}
}

func Conflict(message string) *AppError {
	if message == "" {
		message = "conflict"
	}
	return &AppError{Code: ErrConflict, Message: message}
}

func Validation(message string, fields map[string]string) *AppError {
	if message == "" {
		message = "validation failed"
	}
	return &AppError{Code: ErrValidation, Message: message, Fields: fields}
}

func Network(err error) *AppError {
	return &AppError{Code: ErrNetwork, Message: "network failure", Err: err}
}

func NotFound(resource string) *AppError {
	return &AppError{Code: ErrNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

func Internal(err error) *AppError {
	return &AppError{Code: ErrInternal, Message: "internal error", Err: err}
}

// CodeOf returns the taxonomy code of err, or ErrInternal for unclassified errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

func IsAuthentication(err error) bool { return CodeOf(err) == ErrAuthentication }
func IsPermission(err error) bool     { return CodeOf(err) == ErrPermission }
func IsConflict(err error) bool       { return CodeOf(err) == ErrConflict }
func IsValidation(err error) bool     { return CodeOf(err) == ErrValidation }
func IsNetwork(err error) bool        { return CodeOf(err) == ErrNetwork }
func IsNotFound(err error) bool       { return CodeOf(err) == ErrNotFound }

// FieldsOf returns per-field detail when the error carries it.
func FieldsOf(err error) map[string]string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Fields
	}
	return nil
}
