// Package apperr holds the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrSignature  = errors.New("invalid signature")
)

// ValidationError is a malformed request. It is never retried.
type ValidationError struct {
	Fields map[string]string
}

func Validation(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

// OrNil returns nil when no field was rejected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError means the request contradicts data already recorded.
type ConflictError struct {
	Message string
}

func Conflict(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string { return "conflict: " + e.Message }
func (e *ConflictError) Unwrap() error { return ErrConflict }

type NotFoundError struct {
	Resource string
	Key      string
}

func NotFound(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Resource, e.Key) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// SignatureError is a webhook whose signature did not verify.
type SignatureError struct {
	Rail   string
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s webhook signature rejected: %s", e.Rail, e.Reason)
}
func (e *SignatureError) Unwrap() error { return ErrSignature }
